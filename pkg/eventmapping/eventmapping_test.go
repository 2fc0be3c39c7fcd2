package eventmapping

import (
	"reflect"
	"testing"
)

func TestKey(t *testing.T) {
	got := Key("lk-1", "1.0.0", "AWS")
	want := "mappings/lk-1/1.0.0/events/aws.json.gz"
	if got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
	if Key("lk-1", "1.0.0", "GOOGLE") != "mappings/lk-1/1.0.0/events/google.json.gz" {
		t.Error("cloud name must be lower-cased in the key")
	}
}

func TestMappingAddAndRules(t *testing.T) {
	m := Mapping{}
	m.add("s3.amazonaws.com", "DeleteBucket", "ecc-aws-100-s3-delete")
	m.add("s3.amazonaws.com", "DeleteBucket", "ecc-aws-101-s3-audit")
	m.add("ec2.amazonaws.com", "RunInstances", "ecc-aws-200-ec2")

	got := m.Rules("s3.amazonaws.com", "DeleteBucket")
	want := []string{"ecc-aws-100-s3-delete", "ecc-aws-101-s3-audit"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Rules = %v, want %v", got, want)
	}
	if m.Rules("s3.amazonaws.com", "CreateBucket") != nil {
		t.Error("unknown event must yield nil")
	}
	if m.Rules("unknown", "DeleteBucket") != nil {
		t.Error("unknown source must yield nil")
	}
}

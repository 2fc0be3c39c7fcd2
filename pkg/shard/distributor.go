package shard

// Distributor decides which of the N shards a part belongs to. Distribute is
// a pure function of the part's location.
type Distributor interface {
	// ShardsNumber returns N, the number of shards.
	ShardsNumber() int
	// Distribute maps a region to a shard index in [0, N).
	Distribute(region string) int
}

// DistributePart routes a part through a distributor by its location.
func DistributePart(d Distributor, p Part) int {
	return d.Distribute(p.Location)
}

// SingleDistributor places everything into shard 0. Used for Azure, GCP and
// Kubernetes findings: those clouds are scanned per project in one pass, so
// region sharding would only cost extra blob-store requests.
type SingleDistributor struct{}

func (SingleDistributor) ShardsNumber() int            { return 1 }
func (SingleDistributor) Distribute(region string) int { return 0 }

// awsRegions is the fixed public AWS region list used for shard
// distribution. Do not change the order, only append new regions: existing
// blobs were distributed with these indexes.
var awsRegions = []string{
	"us-east-1",
	"us-east-2",
	"us-west-1",
	"us-west-2",
	"ap-south-1",
	"ap-northeast-1",
	"ap-northeast-2",
	"ap-northeast-3",
	"ap-southeast-1",
	"ap-southeast-2",
	"ca-central-1",
	"eu-central-1",
	"eu-west-1",
	"eu-west-2",
	"eu-west-3",
	"eu-north-1",
	"sa-east-1",
	"ap-southeast-3",
	"ap-southeast-4",
	"af-south-1",
	"ap-east-1",
	"ap-south-2",
	"eu-south-1",
	"eu-south-2",
	"eu-central-2",
	"il-central-1",
	"me-south-1",
	"me-central-1",
	"us-gov-east-1",
	"us-gov-west-1",
}

// awsRegionIndex maps "global" plus every public AWS region to its position.
var awsRegionIndex = func() map[string]int {
	m := make(map[string]int, len(awsRegions)+1)
	m[GlobalRegion] = 0
	for i, r := range awsRegions {
		m[r] = i + 1
	}
	return m
}()

// AWSRegionDistributor shards AWS findings by region. Users mostly scan a
// subset of their regions, so the "update latest" path only has to fetch the
// shards a job touched instead of the whole corpus.
type AWSRegionDistributor struct {
	n int
}

// NewAWSRegionDistributor creates a distributor over n shards.
func NewAWSRegionDistributor(n int) AWSRegionDistributor {
	return AWSRegionDistributor{n: n}
}

func (d AWSRegionDistributor) ShardsNumber() int { return d.n }

func (d AWSRegionDistributor) Distribute(region string) int {
	index, ok := awsRegionIndex[region]
	if !ok {
		index = len(awsRegionIndex)
	}
	return index % d.n
}

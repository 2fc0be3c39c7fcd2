package db

import (
	"context"
	"fmt"
	"time"
)

// Customer mirrors a row of the global public.customers table. Exactly one
// customer row has IsSystem=true (the SYSTEM customer; see glossary).
type Customer struct {
	Name        string
	DisplayName string
	IsSystem    bool
	CreatedAt   time.Time
}

func (q *Queries) CreateCustomer(ctx context.Context, name, displayName string, isSystem bool) (Customer, error) {
	var c Customer
	err := q.db.QueryRow(ctx, `
		INSERT INTO public.customers (name, display_name, is_system)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING name, display_name, is_system, created_at
	`, name, displayName, isSystem).Scan(&c.Name, &c.DisplayName, &c.IsSystem, &c.CreatedAt)
	if err != nil {
		return Customer{}, fmt.Errorf("inserting customer: %w", err)
	}
	return c, nil
}

func (q *Queries) GetCustomer(ctx context.Context, name string) (Customer, error) {
	var c Customer
	err := q.db.QueryRow(ctx, `
		SELECT name, display_name, is_system, created_at FROM public.customers WHERE name = $1
	`, name).Scan(&c.Name, &c.DisplayName, &c.IsSystem, &c.CreatedAt)
	if err != nil {
		return Customer{}, err
	}
	return c, nil
}

func (q *Queries) SystemCustomerName(ctx context.Context) (string, error) {
	var name string
	err := q.db.QueryRow(ctx, `SELECT name FROM public.customers WHERE is_system = true LIMIT 1`).Scan(&name)
	return name, err
}

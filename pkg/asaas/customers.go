package asaas

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/angelmondragon/coinmarket-backend/pkg/errors"
)

// CustomerInput is the identity registered with the gateway.
type CustomerInput struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	CpfCnpj           string `json:"cpfCnpj,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

// Customer is the gateway customer record.
type Customer struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	ExternalReference string `json:"externalReference"`
}

type customerList struct {
	Data       []Customer `json:"data"`
	TotalCount int        `json:"totalCount"`
}

// CreateCustomer registers a new customer. A 409 surfaces as ErrCustomerConflict.
func (c *Client) CreateCustomer(ctx context.Context, input CustomerInput) (*Customer, error) {
	if strings.TrimSpace(input.Email) == "" || strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer name and email are required")
	}
	fields := map[string]any{"email": input.Email, "cpf_cnpj": input.CpfCnpj}
	c.log(ctx, "start", "create_customer", fields, nil)

	var customer Customer
	if err := c.do(ctx, "create_customer", http.MethodPost, "customers", nil, input, &customer); err != nil {
		if statusCode(err) == http.StatusConflict {
			c.log(ctx, "conflict", "create_customer", fields, nil)
			return nil, ErrCustomerConflict
		}
		c.log(ctx, "error", "create_customer", fields, err)
		return nil, err
	}

	c.log(ctx, "success", "create_customer", map[string]any{"customer_id": customer.ID}, nil)
	return &customer, nil
}

// FindCustomerByEmail returns the first customer registered with email, or nil.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	fields := map[string]any{"email": trimmed}
	c.log(ctx, "start", "find_customer", fields, nil)

	var list customerList
	query := url.Values{"email": []string{trimmed}}
	if err := c.do(ctx, "find_customer", http.MethodGet, "customers", query, nil, &list); err != nil {
		c.log(ctx, "error", "find_customer", fields, err)
		return nil, err
	}
	if len(list.Data) == 0 {
		c.log(ctx, "miss", "find_customer", fields, nil)
		return nil, nil
	}

	customer := list.Data[0]
	c.log(ctx, "success", "find_customer", map[string]any{"customer_id": customer.ID}, nil)
	return &customer, nil
}

// EnsureCustomer creates the customer, falling back to a lookup when the
// gateway reports that the identity already exists. Repeated calls converge on
// the same customer id.
func (c *Client) EnsureCustomer(ctx context.Context, input CustomerInput) (*Customer, error) {
	customer, err := c.CreateCustomer(ctx, input)
	if err == nil {
		return customer, nil
	}
	if err != ErrCustomerConflict {
		return nil, err
	}
	existing, err := c.FindCustomerByEmail(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, "gateway reported a conflicting customer that cannot be found")
	}
	return existing, nil
}

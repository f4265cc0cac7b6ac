package resilient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Validator is implemented by response types that check their own invariants
// after decoding.
type Validator interface {
	Validate() error
}

// DecodeJSON decodes resp's body into a T and validates it.
// Any mismatch is reported as a *SchemaError.
func DecodeJSON[T any](resp *Response) (T, error) {
	var out T
	if resp == nil {
		return out, &SchemaError{Type: typeName(&out), Err: errors.New("no response")}
	}
	if err := decodeInto(resp.Body, &out); err != nil {
		return out, err
	}
	return out, nil
}

// GetJSON issues a GET through c and decodes the response into a T.
func GetJSON[T any](ctx context.Context, c *Client, path string, query map[string]string) (T, error) {
	resp, err := c.Request(ctx, RequestSpec{
		Method: "GET",
		URL:    path,
		Query:  query,
		Header: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return DecodeJSON[T](resp)
}

func decodeInto(body []byte, v any) error {
	name := typeName(v)

	if err := json.Unmarshal(body, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return &SchemaError{Type: name, Field: typeErr.Field, Err: err}
		}
		return &SchemaError{Type: name, Err: err}
	}

	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			var schemaErr *SchemaError
			if errors.As(err, &schemaErr) {
				if schemaErr.Type == "" {
					schemaErr.Type = name
				}
				return schemaErr
			}
			return &SchemaError{Type: name, Err: err}
		}
	}
	return nil
}

func typeName(v any) string {
	s := fmt.Sprintf("%T", v)
	if len(s) > 0 && s[0] == '*' {
		return s[1:]
	}
	return s
}

// Required returns a *SchemaError when value is the zero value of its type.
// It is a convenience for Validate implementations.
func Required[T comparable](field string, value T) error {
	var zero T
	if value == zero {
		return &SchemaError{Field: field, Err: errors.New("required")}
	}
	return nil
}

package api

import (
	"context"
	"net/url"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/httpclient"
	"github.com/Laudkyle/aptbooks/pkg/pagination"
	"github.com/Laudkyle/aptbooks/pkg/validator"
)

// Resource is the CRUD surface shared by every collection: T is the
// representation the backend returns, In the payload it accepts.
type Resource[T, In any] struct {
	http             *httpclient.Client
	path             string
	idempotentCreate bool
}

type resourceOption func(*resourceOptions)

type resourceOptions struct {
	idempotentCreate bool
}

// idempotentCreate makes Create carry an Idempotency-Key.
func idempotentCreate() resourceOption {
	return func(o *resourceOptions) { o.idempotentCreate = true }
}

func newResource[T, In any](hc *httpclient.Client, path string, opts ...resourceOption) *Resource[T, In] {
	var o resourceOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Resource[T, In]{http: hc, path: path, idempotentCreate: o.idempotentCreate}
}

// Path returns the collection path.
func (r *Resource[T, In]) Path() string {
	return r.path
}

// List returns one page of the collection.
func (r *Resource[T, In]) List(ctx context.Context, params pagination.Params) (pagination.Result[T], error) {
	return r.Search(ctx, params, nil)
}

// Search returns one page of the collection narrowed by filter, which is
// passed through as query parameters.
func (r *Resource[T, In]) Search(ctx context.Context, params pagination.Params, filter url.Values) (pagination.Result[T], error) {
	var out pagination.Result[T]
	opts := []httpclient.RequestOption{httpclient.WithQuery(params.Values())}
	if len(filter) > 0 {
		opts = append(opts, httpclient.WithQuery(filter))
	}
	if err := r.http.Get(ctx, r.path, &out, opts...); err != nil {
		return pagination.Result[T]{}, err
	}
	return out, nil
}

// Get fetches a single item.
func (r *Resource[T, In]) Get(ctx context.Context, id string) (*T, error) {
	path, err := r.itemPath(id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := r.http.Get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Create validates in and posts it to the collection.
func (r *Resource[T, In]) Create(ctx context.Context, in In) (*T, error) {
	if err := validator.Validate(in); err != nil {
		return nil, err
	}
	var opts []httpclient.RequestOption
	if r.idempotentCreate {
		opts = append(opts, httpclient.WithIdempotencyKey())
	}
	var out T
	if err := r.http.Post(ctx, r.path, in, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update validates in and replaces the item with it.
func (r *Resource[T, In]) Update(ctx context.Context, id string, in In) (*T, error) {
	path, err := r.itemPath(id)
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(in); err != nil {
		return nil, err
	}
	var out T
	if err := r.http.Put(ctx, path, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes the item.
func (r *Resource[T, In]) Delete(ctx context.Context, id string) error {
	path, err := r.itemPath(id)
	if err != nil {
		return err
	}
	return r.http.Delete(ctx, path, nil)
}

// action posts to a sub-path of an item, e.g. /invoices/{id}/post.
func (r *Resource[T, In]) action(ctx context.Context, id, name string, in any, opts ...httpclient.RequestOption) (*T, error) {
	path, err := r.itemPath(id)
	if err != nil {
		return nil, err
	}
	var out T
	if err := r.http.Post(ctx, path+"/"+name, in, &out, opts...); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Resource[T, In]) itemPath(id string) (string, error) {
	if id == "" {
		return "", apierrors.InvalidInput("id is required", nil)
	}
	return r.path + "/" + url.PathEscape(id), nil
}

// InvoiceService adds the posting lifecycle to the invoice collection.
type InvoiceService struct {
	*Resource[Invoice, InvoiceInput]
}

// VoidRequest carries the reason recorded with a voided invoice.
type VoidRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

// Post moves a draft invoice to posted, writing it to the ledger.
func (s *InvoiceService) Post(ctx context.Context, id string) (*Invoice, error) {
	return s.action(ctx, id, "post", nil, httpclient.WithIdempotencyKey())
}

// Void reverses a posted invoice. Paid invoices cannot be voided.
func (s *InvoiceService) Void(ctx context.Context, id string, req VoidRequest) (*Invoice, error) {
	if err := validator.Validate(req); err != nil {
		return nil, err
	}
	return s.action(ctx, id, "void", req, httpclient.WithIdempotencyKey())
}

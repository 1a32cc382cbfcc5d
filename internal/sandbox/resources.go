package sandbox

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/Laudkyle/aptbooks/pkg/errors"
	"github.com/Laudkyle/aptbooks/pkg/httputil"
	"github.com/Laudkyle/aptbooks/pkg/logger"
	"github.com/Laudkyle/aptbooks/pkg/middleware"
	"github.com/Laudkyle/aptbooks/pkg/pagination"
	"github.com/Laudkyle/aptbooks/pkg/validator"
)

// resource describes one organization-scoped collection: where it lives in
// orgData and the business rules applied on each mutation. create and update
// are required; a nil remove or filter accepts everything.
type resource[T, In any] struct {
	name   string // singular, used in error messages
	perm   string // permission prefix, "<perm>:read" and "<perm>:write"
	event  string // aggregate type of emitted events; empty emits none
	coll   func(*orgData) *collection[T]
	id     func(T) string
	create func(d *orgData, in In, now time.Time) (T, error)
	update func(d *orgData, cur T, in In) (T, error)
	remove func(d *orgData, cur T) error
	filter func(item T, q url.Values) bool
}

// routes mounts the CRUD endpoints on r.
func (res *resource[T, In]) routes(r chi.Router, s *Store, ev *eventSink) {
	read := middleware.RequirePermission(res.perm + ":read")
	write := middleware.RequirePermission(res.perm + ":write")

	r.With(read).Get("/", res.handleList(s))
	r.With(write).Post("/", res.handleCreate(s, ev))
	r.With(read).Get("/{id}", res.handleGet(s))
	r.With(write).Put("/{id}", res.handleUpdate(s, ev))
	r.With(write).Delete("/{id}", res.handleDelete(s, ev))
}

func (res *resource[T, In]) eventType(action string) string {
	if res.event == "" {
		return ""
	}
	return res.event + "." + action
}

func (res *resource[T, In]) handleList(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgScope(w, r)
		if !ok {
			return
		}
		params := pagination.FromRequest(r)
		q := r.URL.Query()

		var page pagination.Result[T]
		err := s.read(orgID, func(d *orgData) error {
			items := res.coll(d).all()
			if res.filter != nil {
				kept := items[:0]
				for _, it := range items {
					if res.filter(it, q) {
						kept = append(kept, it)
					}
				}
				items = kept
			}
			page = pagination.Slice(items, params)
			return nil
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, page)
	}
}

func (res *resource[T, In]) handleGet(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgScope(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var out T
		err := s.read(orgID, func(d *orgData) error {
			v, found := res.coll(d).get(id)
			if !found {
				return apierrors.NotFound(res.name, id)
			}
			out = v
			return nil
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, out)
	}
}

func (res *resource[T, In]) handleCreate(s *Store, ev *eventSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgScope(w, r)
		if !ok {
			return
		}
		var in In
		if err := validator.DecodeAndValidate(r, &in); err != nil {
			writeError(w, r, err)
			return
		}

		var out T
		err := s.write(orgID, func(d *orgData) error {
			v, err := res.create(d, in, s.now().UTC())
			if err != nil {
				return err
			}
			res.coll(d).put(res.id(v), v)
			out = v
			return nil
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		logger.FromContext(r.Context()).InfoContext(r.Context(), res.name+" created", slog.String("id", res.id(out)))
		ev.emit(r, orgID, res.eventType("created"), res.event, res.id(out), out)
		httputil.WriteJSON(w, http.StatusCreated, out)
	}
}

func (res *resource[T, In]) handleUpdate(s *Store, ev *eventSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgScope(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var in In
		if err := validator.DecodeAndValidate(r, &in); err != nil {
			writeError(w, r, err)
			return
		}

		var out T
		err := s.write(orgID, func(d *orgData) error {
			cur, found := res.coll(d).get(id)
			if !found {
				return apierrors.NotFound(res.name, id)
			}
			v, err := res.update(d, cur, in)
			if err != nil {
				return err
			}
			res.coll(d).put(id, v)
			out = v
			return nil
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		ev.emit(r, orgID, res.eventType("updated"), res.event, id, out)
		httputil.WriteJSON(w, http.StatusOK, out)
	}
}

func (res *resource[T, In]) handleDelete(s *Store, ev *eventSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, ok := orgScope(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var removed T
		err := s.write(orgID, func(d *orgData) error {
			cur, found := res.coll(d).get(id)
			if !found {
				return apierrors.NotFound(res.name, id)
			}
			if res.remove != nil {
				if err := res.remove(d, cur); err != nil {
					return err
				}
			}
			res.coll(d).remove(id)
			removed = cur
			return nil
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		logger.FromContext(r.Context()).InfoContext(r.Context(), res.name+" deleted", slog.String("id", id))
		ev.emit(r, orgID, res.eventType("deleted"), res.event, id, removed)
		httputil.WriteNoContent(w)
	}
}

// pathID reads the {id} URL parameter, answering 400 when it is not a UUID.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return "", false
	}
	return id.String(), true
}

// orgScope returns the organization the access token is scoped to.
func orgScope(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil || claims.OrgID == "" {
		writeError(w, r, apierrors.Forbidden("token is not scoped to an organization"))
		return "", false
	}
	return claims.OrgID, true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, r, err, logger.FromContext(r.Context()))
}

func writeFlatError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteFlatError(w, r, err, logger.FromContext(r.Context()))
}

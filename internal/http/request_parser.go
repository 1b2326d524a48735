package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"lancamentos/internal/core"
	"lancamentos/internal/wire"

	"github.com/go-chi/chi/v5"
)

// errBadRequest marks malformed input that never reaches the service.
var errBadRequest = errors.New("bad request")

// ParseCriteria builds filter criteria from the statement query string.
// Empty parameters and zero ids are wildcards. Free text goes through
// sanitize.
func ParseCriteria(q url.Values, sanitize func(string) string) (core.Criteria, error) {
	var msgs []string
	c := core.Criteria{Term: sanitize(q.Get("descricao"))}

	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"contaId", &c.AccountID},
		{"pessoaId", &c.CounterpartyID},
		{"centroCustoId", &c.CostCenterID},
	} {
		v := strings.TrimSpace(q.Get(p.name))
		if v == "" {
			continue
		}
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			msgs = append(msgs, fmt.Sprintf("%s: invalid id %q", p.name, v))
			continue
		}
		*p.dst = id
	}

	for _, p := range []struct {
		name string
		dst  *core.DateKey
	}{
		{"lancDe", &c.Posting.From},
		{"lancAte", &c.Posting.To},
		{"vencDe", &c.Due.From},
		{"vencAte", &c.Due.To},
		{"baixaDe", &c.Settlement.From},
		{"baixaAte", &c.Settlement.To},
	} {
		v := strings.TrimSpace(q.Get(p.name))
		if v == "" {
			continue
		}
		if len(v) > 10 {
			v = v[:10]
		}
		if err := core.DateKey(v).Valid(); err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v %q", p.name, err, v))
			continue
		}
		*p.dst = core.DateKey(v)
	}

	if len(msgs) > 0 {
		return core.Criteria{}, fmt.Errorf("%w: %s", errBadRequest, strings.Join(msgs, "; "))
	}
	return c, nil
}

// entryID reads the {id} route parameter. Negative ids name entries created
// locally and not yet synced.
func entryID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid entry id %q", errBadRequest, raw)
	}
	return id, nil
}

// decodePatchInput reads a JSON patch body. Unknown keys are rejected so a
// misspelled field is not silently dropped.
func decodePatchInput(w http.ResponseWriter, r *http.Request, sanitize func(string) string) (wire.PatchInput, error) {
	var in wire.PatchInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return in, fmt.Errorf("%w: empty body", errBadRequest)
		}
		return in, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	for _, f := range []*wire.Field[string]{&in.Description, &in.Installment} {
		if f.Present && !f.Null {
			f.Value = sanitize(f.Value)
		}
	}
	return in, nil
}

package engine

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const contentTypeJSON = "application/json"

// Params are the GraphQL request parameters carried by a canonical request.
type Params struct {
	Query         string
	OperationName string
	Variables     map[string]interface{}
	Extensions    map[string]interface{}
	// HTTP method that carried the params; mutations are refused over GET.
	Method string
}

// ParseParams extracts GraphQL params from a POST body or a GET search string.
func ParseParams(req *Request) (*Params, error) {
	if req == nil {
		return nil, newRequestError(http.StatusBadRequest, CodeBadRequest, "request is required")
	}

	switch strings.ToUpper(req.Method) {
	case http.MethodPost:
		return paramsFromBody(req.Body)
	case http.MethodGet:
		return paramsFromSearch(req.Search)
	default:
		rerr := newRequestError(http.StatusMethodNotAllowed, CodeMethodNotAllowed,
			"GraphQL only supports GET and POST requests.")
		rerr.header = http.Header{"Allow": []string{"GET, POST"}}
		return nil, rerr
	}
}

func paramsFromBody(body any) (*Params, error) {
	switch b := body.(type) {
	case map[string]interface{}:
		if len(b) == 0 {
			return nil, badRequest("POST body must not be an empty object")
		}
		p := &Params{Method: http.MethodPost}
		var err error
		if p.Query, err = optionalString(b, "query"); err != nil {
			return nil, err
		}
		if p.OperationName, err = optionalString(b, "operationName"); err != nil {
			return nil, err
		}
		if p.Variables, err = optionalObject(b, "variables"); err != nil {
			return nil, err
		}
		if p.Extensions, err = optionalObject(b, "extensions"); err != nil {
			return nil, err
		}
		return p, nil
	case []interface{}:
		return nil, badRequest("batched operations are not supported")
	case nil:
		return nil, badRequest("POST body missing")
	default:
		return nil, badRequest("POST body must be a JSON object")
	}
}

func paramsFromSearch(search string) (*Params, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(search, "?"))
	if err != nil {
		return nil, badRequest("invalid query string")
	}

	p := &Params{
		Method:        http.MethodGet,
		Query:         values.Get("query"),
		OperationName: values.Get("operationName"),
	}
	if raw := values.Get("variables"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Variables); err != nil {
			return nil, badRequest("variables in the query string must be a JSON object")
		}
	}
	if raw := values.Get("extensions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Extensions); err != nil {
			return nil, badRequest("extensions in the query string must be a JSON object")
		}
	}
	return p, nil
}

func optionalString(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", badRequest(fmt.Sprintf("%s must be a string", key))
	}
	return s, nil
}

func optionalObject(m map[string]interface{}, key string) (map[string]interface{}, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, badRequest(fmt.Sprintf("%s must be an object", key))
	}
	return obj, nil
}

func badRequest(message string) *requestError {
	return newRequestError(http.StatusBadRequest, CodeBadRequest, message)
}

// persistedQuery reads extensions.persistedQuery. ok is false when absent.
func (p *Params) persistedQuery() (hash string, ok bool, err error) {
	raw, present := p.Extensions["persistedQuery"]
	if !present || raw == nil {
		return "", false, nil
	}
	pq, isObj := raw.(map[string]interface{})
	if !isObj {
		return "", false, badRequest("extensions.persistedQuery must be an object")
	}
	if version, _ := pq["version"].(float64); version != 1 {
		return "", false, badRequest("Unsupported persisted query version")
	}
	hash, _ = pq["sha256Hash"].(string)
	if hash == "" {
		return "", false, badRequest("extensions.persistedQuery.sha256Hash is required")
	}
	return strings.ToLower(hash), true, nil
}

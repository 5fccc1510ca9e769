package contracts

import (
	"encoding/json"
)

// QueryResult is the reply to a query. A request that times out yields
// OK=false with a timeout message rather than an error.
type QueryResult struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Success builds a successful result
func Success(data any) QueryResult {
	return QueryResult{OK: true, Data: data}
}

// Failure builds a failed result
func Failure(message string) QueryResult {
	return QueryResult{OK: false, Error: message}
}

// Decode converts Data into dst, whether it is a typed value or raw JSON
func (r QueryResult) Decode(dst any) error {
	return decodeValue(r.Data, dst)
}

// QueryResultFrom interprets a reply payload. Payloads that already are a
// QueryResult, or decode to an object carrying "ok", are used as-is; any
// other payload is wrapped as successful data.
func QueryResultFrom(payload any) QueryResult {
	switch p := payload.(type) {
	case QueryResult:
		return p
	case *QueryResult:
		if p != nil {
			return *p
		}
		return Success(nil)
	case json.RawMessage:
		return queryResultFromJSON(p)
	case []byte:
		return queryResultFromJSON(p)
	case map[string]any:
		ok, has := p["ok"].(bool)
		if !has {
			return Success(p)
		}
		errMsg, _ := p["error"].(string)
		return QueryResult{OK: ok, Data: p["data"], Error: errMsg}
	}
	return Success(payload)
}

func queryResultFromJSON(raw []byte) QueryResult {
	var probe struct {
		OK    *bool           `json:"ok"`
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := unmarshal(raw, &probe); err != nil || probe.OK == nil {
		return Success(json.RawMessage(raw))
	}
	result := QueryResult{OK: *probe.OK, Error: probe.Error}
	if len(probe.Data) > 0 && string(probe.Data) != "null" {
		result.Data = probe.Data
	}
	return result
}

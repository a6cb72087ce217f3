package s3api

import (
	"encoding/json"
	"net/http"

	"github.com/keboola/storage-core/pkg/apierr"
)

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierr.Validation("invalid request body: %v", err)
	}
	return nil
}

func jsonEncode(w http.ResponseWriter, v interface{}) error {
	return json.NewEncoder(w).Encode(v)
}

package s3api

import (
	"encoding/xml"
	"net/http"

	"github.com/keboola/storage-core/pkg/apierr"
)

// The field shapes below mirror aws-sdk-go-v2/service/s3's generated
// types (ListObjectsV2Output, Object, CommonPrefix) closely enough
// that a client decoding this XML with that SDK would succeed, but are
// hand-written with xml tags since the SDK's own types serialize JSON,
// not the XML wire format S3 actually speaks.

// ListBucketResult is the ListObjectsV2 response body.
type ListBucketResult struct {
	XMLName        xml.Name       `xml:"ListBucketResult"`
	Name           string         `xml:"Name"`
	Prefix         string         `xml:"Prefix"`
	Delimiter      string         `xml:"Delimiter,omitempty"`
	KeyCount       int            `xml:"KeyCount"`
	MaxKeys        int            `xml:"MaxKeys"`
	IsTruncated    bool           `xml:"IsTruncated"`
	Contents       []Contents     `xml:"Contents"`
	CommonPrefixes []CommonPrefix `xml:"CommonPrefixes,omitempty"`
}

// Contents is one object entry in a ListBucketResult.
type Contents struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
}

// CommonPrefix groups keys sharing a delimiter-bounded prefix.
type CommonPrefix struct {
	Prefix string `xml:"Prefix"`
}

// errorResponse is the XML error body shape every S3 API uses.
type errorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestID string   `xml:"RequestId,omitempty"`
}

func writeXML(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(xml.Header))
	_ = xml.NewEncoder(w).Encode(v)
}

func writeXMLError(w http.ResponseWriter, status int, code, message, resource string) {
	writeXML(w, status, errorResponse{Code: code, Message: message, Resource: resource})
}

// writeXMLErrorFromAPIErr maps an apierr.Kind onto the nearest S3 error
// code and HTTP status. S3 error bodies are always XML.
func writeXMLErrorFromAPIErr(w http.ResponseWriter, err error, resource string) {
	kind := apierr.KindOf(err)
	code, status := s3CodeForKind(kind)
	writeXMLError(w, status, code, err.Error(), resource)
}

func s3CodeForKind(kind apierr.Kind) (code string, status int) {
	switch kind {
	case apierr.KindValidation:
		return "InvalidArgument", http.StatusBadRequest
	case apierr.KindAuth:
		return "AccessDenied", http.StatusUnauthorized
	case apierr.KindAuthz:
		return "AccessDenied", http.StatusForbidden
	case apierr.KindNotFound:
		return "NoSuchKey", http.StatusNotFound
	case apierr.KindConflict:
		return "BucketAlreadyOwnedByYou", http.StatusConflict
	case apierr.KindGone:
		return "NoSuchKey", http.StatusGone
	case apierr.KindRateLimit:
		return "SlowDown", http.StatusTooManyRequests
	case apierr.KindLockTimeout:
		return "SlowDown", http.StatusConflict
	case apierr.KindEngineError:
		return "InternalError", http.StatusUnprocessableEntity
	default:
		return "InternalError", http.StatusInternalServerError
	}
}

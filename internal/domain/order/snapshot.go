package order

import (
	"encoding/json"

	"github.com/go-faster/errors"
)

// SchemaVersion is written into every snapshot document.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned when a document was written by a newer
// version of the service.
var ErrUnsupportedSchema = errors.New("unsupported snapshot schema version")

type envelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	Data          json.RawMessage `json:"data"`
}

// EncodeDocument wraps v in a versioned envelope.
func EncodeDocument[T any](v T) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal document")
	}
	return json.Marshal(envelope{SchemaVersion: SchemaVersion, Data: data})
}

// DecodeDocument reads a document produced by EncodeDocument. Documents
// without an envelope predate versioning and are read as version 1 data.
func DecodeDocument[T any](raw []byte) (T, error) {
	var zero T

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.SchemaVersion == 0 || env.Data == nil {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, errors.Wrap(err, "unmarshal legacy document")
		}
		return v, nil
	}

	switch env.SchemaVersion {
	case 1:
		var v T
		if err := json.Unmarshal(env.Data, &v); err != nil {
			return zero, errors.Wrap(err, "unmarshal v1 document")
		}
		return v, nil
	default:
		return zero, errors.Wrapf(ErrUnsupportedSchema, "version %d", env.SchemaVersion)
	}
}

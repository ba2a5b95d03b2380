package swrcache

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// DefaultKey hashes args structurally: the JSON encoding of args (map keys are
// sorted by encoding/json) digested with xxhash64 and rendered as hex.
// Equal args always produce the same key across processes.
func DefaultKey(args any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal args for key")
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16), nil
}

var keyPartEscaper = strings.NewReplacer(`\`, `\\`, `:`, `\:`)

// escapeKeyPart escapes separators so a ':' inside a prefix or operation id
// cannot shift the boundary between components
func escapeKeyPart(s string) string {
	return keyPartEscaper.Replace(s)
}

// cacheKey joins the namespace prefix, the operation identity and the argument hash.
// The hash is the last component and is left as is.
func cacheKey(prefix, operationID, hash string) string {
	return strings.Join([]string{escapeKeyPart(prefix), escapeKeyPart(operationID), hash}, ":")
}

// queueName identifies the revalidation queue of one operation under one prefix
func queueName(operationID, prefix string) string {
	return escapeKeyPart(operationID) + ":" + escapeKeyPart(prefix)
}

package querycache

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Key identifies a cache entry: an operation name plus the signature of its arguments.
type Key struct {
	Operation string
	Args      string
}

// NewKey builds the key for operation called with args. Args are encoded as base64 JSON, so
// maps and structs with equal contents produce equal keys. Nil args give an empty signature.
func NewKey(operation string, args any) Key {
	if args == nil {
		return Key{Operation: operation}
	}
	data, err := json.Marshal(args)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", args))
	}
	return Key{Operation: operation, Args: base64.URLEncoding.EncodeToString(data)}
}

// DecodeArgs decodes the argument signature of k into out.
func (k Key) DecodeArgs(out any) error {
	if k.Args == "" {
		return nil
	}
	decoded, err := base64.URLEncoding.DecodeString(k.Args)
	if err != nil {
		return err
	}
	return json.Unmarshal(decoded, out)
}

func (k Key) String() string {
	if k.Args == "" {
		return k.Operation
	}
	return k.Operation + "(" + k.Args + ")"
}

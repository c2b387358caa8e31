package rpc

import (
	"errors"
	"sync"
)

var (
	kindsMu sync.RWMutex
	kinds   = map[string]error{}
)

// RegisterErrorKind associates a sentinel error with a wire kind so that
// errors.Is keeps matching after the error crossed the bus. Packages call it
// from init.
func RegisterErrorKind(kind string, sentinel error) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[kind] = sentinel
}

// RemoteError is an error returned by a handler on the other side of a Call
type RemoteError struct {
	Kind    string `cbor:"kind,omitempty"`
	Message string `cbor:"message"`
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Unwrap returns the registered sentinel for the error kind, if any
func (e *RemoteError) Unwrap() error {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	return kinds[e.Kind]
}

func toRemote(err error) *RemoteError {
	if err == nil {
		return nil
	}
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	remote := &RemoteError{Message: err.Error()}
	for kind, sentinel := range kinds {
		if errors.Is(err, sentinel) {
			remote.Kind = kind
			break
		}
	}
	return remote
}

// envelope is the reply body of a Call
type envelope struct {
	Result RawMessage   `cbor:"result,omitempty"`
	Error  *RemoteError `cbor:"error,omitempty"`
}

func encodeReply(result interface{}, err error) ([]byte, error) {
	env := envelope{Error: toRemote(err)}
	if err == nil && result != nil {
		data, merr := Marshal(result)
		if merr != nil {
			env.Error = toRemote(merr)
		} else {
			env.Result = data
		}
	}
	return Marshal(&env)
}

func decodeReply(data []byte, reply interface{}) error {
	var env envelope
	if err := Unmarshal(data, &env); err != nil {
		return err
	}
	if env.Error != nil {
		return env.Error
	}
	if reply != nil && len(env.Result) > 0 {
		return Unmarshal(env.Result, reply)
	}
	return nil
}

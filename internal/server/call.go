package server

import (
	"context"
	"encoding/json"

	"github.com/Aman-CERP/codesearch/internal/errors"
)

// Call runs one command in process with the same encoding a Client would
// use, so callers can swap a local server for a remote one.
func (s *Server) Call(ctx context.Context, action string, params, out any) error {
	cmd := Command{Action: action}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return errors.New(errors.ErrCodeInvalidParams, "encode params", err)
		}
		cmd.Params = raw
	}

	data, _, _, err := s.dispatch(ctx, cmd)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.InternalError("encode response data", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.InternalError("decode response data", err)
	}
	return nil
}

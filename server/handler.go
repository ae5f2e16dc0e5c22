package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hatlonely/crudgw/rdb"
	"github.com/pkg/errors"
)

type handlerFunc func(w http.ResponseWriter, r *http.Request) error

func (s *Server) handle(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			writeError(w, err)
		}
	})
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, UnprocessableEntity("id must be an integer")
	}
	return id, nil
}

// readBody 超过 MaxBodyBytes 时返回 413
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.options.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, RequestEntityTooLarge(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return nil, errors.Wrap(rdb.ErrInvalidPayload, err.Error())
	}
	return body, nil
}

func (s *Server) decodePayload(w http.ResponseWriter, r *http.Request) (rdb.Payload, error) {
	body, err := s.readBody(w, r)
	if err != nil {
		return rdb.Payload{}, err
	}
	return rdb.DecodePayload(bytes.NewReader(body))
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	tables := []string{}
	err := s.db.WithTx(ctx, func(exec rdb.Executor) error {
		result, err := s.gateway.ListTables(ctx, exec)
		if result != nil {
			tables = result
		}
		return err
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, tables)
	return nil
}

type createTableRequest struct {
	Name    string          `json:"name"`
	Columns []rdb.ColumnDef `json:"columns"`
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	var req createTableRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return errors.Wrap(rdb.ErrInvalidPayload, err.Error())
	}

	ctx := r.Context()
	err = s.db.WithTx(ctx, func(exec rdb.Executor) error {
		return s.gateway.CreateTable(ctx, exec, req.Name, req.Columns)
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "created", "table": req.Name})
	return nil
}

func (s *Server) listRows(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	rows := []rdb.Row{}
	err := s.db.WithTx(ctx, func(exec rdb.Executor) error {
		result, err := s.gateway.List(ctx, exec, r.PathValue("table"))
		if result != nil {
			rows = result
		}
		return err
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, rows)
	return nil
}

func (s *Server) getRow(w http.ResponseWriter, r *http.Request) error {
	id, err := parseID(r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	var row rdb.Row
	err = s.db.WithTx(ctx, func(exec rdb.Executor) error {
		var err error
		row, err = s.gateway.Get(ctx, exec, r.PathValue("table"), id)
		return err
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, row)
	return nil
}

func (s *Server) insertRow(w http.ResponseWriter, r *http.Request) error {
	payload, err := s.decodePayload(w, r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	var row rdb.Row
	err = s.db.WithTx(ctx, func(exec rdb.Executor) error {
		var err error
		row, err = s.gateway.Insert(ctx, exec, r.PathValue("table"), payload)
		return err
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, row)
	return nil
}

func (s *Server) updateRow(w http.ResponseWriter, r *http.Request) error {
	id, err := parseID(r)
	if err != nil {
		return err
	}
	payload, err := s.decodePayload(w, r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	var row rdb.Row
	err = s.db.WithTx(ctx, func(exec rdb.Executor) error {
		var err error
		row, err = s.gateway.Update(ctx, exec, r.PathValue("table"), id, payload)
		return err
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, row)
	return nil
}

func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request) error {
	id, err := parseID(r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	err = s.db.WithTx(ctx, func(exec rdb.Executor) error {
		return s.gateway.Delete(ctx, exec, r.PathValue("table"), id)
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) error {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.WarnContext(r.Context(), "health check failed", "error", err.Error())
		return ServiceUnavailable("database unavailable")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	return nil
}

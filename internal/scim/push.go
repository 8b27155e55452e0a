package scim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Outcome is the result of pushing one row, telling the caller (the
// engine's push loop) how to update the row's persisted overlay fields.
type Outcome struct {
	QliqID            string
	CleanedError      bool // webserverError should be cleared
	WebserverError    int  // new webserverError to persist (0 if CleanedError)
	IsDeleted         bool // row should be marked cloud-deleted
	MarkSent          bool
	PasswordResolved  bool // clears the "password changed locally" overlay bit
	Updated           bool // this was a PUT that returned 200 (increments "updated" counter)
	ResolvedConflict  bool
}

// PushUser pushes one user row, following the decision table of spec §4.E:
//
//	isDeleted, no qliqId  -> mark sent, no call
//	isDeleted, has qliqId -> DELETE
//	not deleted, no qliqId -> POST (create)
//	not deleted, has qliqId -> PUT (update)
func (c *Client) PushUser(ctx context.Context, in UserInput, qliqID string, isDeleted bool) (Outcome, error) {
	if isDeleted {
		if qliqID == "" {
			return Outcome{MarkSent: true}, nil
		}

		return c.deleteResource(ctx, "/Users/"+qliqID)
	}

	body, err := json.Marshal(toSCIMUser(in))
	if err != nil {
		return Outcome{}, fmt.Errorf("scim: marshaling user %s: %w", in.ObjectGUID, err)
	}

	if qliqID == "" {
		return c.createUser(ctx, body)
	}

	return c.updateUser(ctx, qliqID, body)
}

func (c *Client) createUser(ctx context.Context, body []byte) (Outcome, error) {
	resp, err := c.do(ctx, http.MethodPost, "/Users", body)
	if err != nil {
		var statusErr *StatusError
		if !isStatusError(err, &statusErr) {
			return Outcome{}, err
		}

		if statusErr.StatusCode == http.StatusConflict {
			return c.resolveConflict(ctx, "/Users", statusErr.Body, body)
		}

		if IsPermanent(err) {
			return Outcome{WebserverError: statusErr.StatusCode}, nil
		}

		return Outcome{}, err
	}
	defer resp.Body.Close()

	respBody, _ := readAll(resp)

	id, _ := parseID(respBody)

	return Outcome{QliqID: id, CleanedError: true, MarkSent: true, PasswordResolved: true}, nil
}

func (c *Client) updateUser(ctx context.Context, qliqID string, body []byte) (Outcome, error) {
	resp, err := c.do(ctx, http.MethodPut, "/Users/"+qliqID, body)
	if err != nil {
		var statusErr *StatusError
		if !isStatusError(err, &statusErr) {
			return Outcome{}, err
		}

		if statusErr.StatusCode == http.StatusNotFound {
			// Cloud-deleted: permanently quarantined per spec §4.E/§7.
			return Outcome{IsDeleted: true, WebserverError: http.StatusNotFound, MarkSent: true}, nil
		}

		if IsPermanent(err) {
			return Outcome{WebserverError: statusErr.StatusCode}, nil
		}

		return Outcome{}, err
	}
	defer resp.Body.Close()

	return Outcome{QliqID: qliqID, CleanedError: true, MarkSent: true, PasswordResolved: true, Updated: true}, nil
}

// resolveConflict implements the 409→GET→PUT reconciliation of spec §4.E:
// extract id from the conflict body, GET the existing resource to confirm,
// then PUT the merged payload (server fields stripped, local fields
// layered — here: simply the freshly-built local payload, since our local
// mapping never echoes server-only fields back).
func (c *Client) resolveConflict(ctx context.Context, resourcePath string, conflictRespBody, localBody []byte) (Outcome, error) {
	id, ok := parseConflictID(conflictRespBody)
	if !ok {
		return Outcome{}, fmt.Errorf("scim: 409 conflict with no id in body")
	}

	getResp, err := c.do(ctx, http.MethodGet, resourcePath+"/"+id, nil)
	if err != nil {
		return Outcome{}, fmt.Errorf("scim: confirming conflict id %s: %w", id, err)
	}
	getResp.Body.Close()

	putResp, err := c.do(ctx, http.MethodPut, resourcePath+"/"+id, localBody)
	if err != nil {
		return Outcome{}, fmt.Errorf("scim: reconciling conflict id %s: %w", id, err)
	}
	defer putResp.Body.Close()

	return Outcome{QliqID: id, CleanedError: true, MarkSent: true, PasswordResolved: true, ResolvedConflict: true}, nil
}

// PushGroup pushes one group row, following the same decision table as
// PushUser but for /Groups.
func (c *Client) PushGroup(ctx context.Context, in GroupInput, qliqID string, isDeleted bool) (Outcome, error) {
	if isDeleted {
		if qliqID == "" {
			return Outcome{MarkSent: true}, nil
		}

		return c.deleteResource(ctx, "/Groups/"+qliqID)
	}

	body, err := json.Marshal(toSCIMGroup(in))
	if err != nil {
		return Outcome{}, fmt.Errorf("scim: marshaling group %s: %w", in.ObjectGUID, err)
	}

	if qliqID == "" {
		resp, err := c.do(ctx, http.MethodPost, "/Groups", body)
		if err != nil {
			var statusErr *StatusError
			if isStatusError(err, &statusErr) {
				if statusErr.StatusCode == http.StatusConflict {
					return c.resolveConflict(ctx, "/Groups", statusErr.Body, body)
				}

				if IsPermanent(err) {
					return Outcome{WebserverError: statusErr.StatusCode}, nil
				}
			}

			return Outcome{}, err
		}
		defer resp.Body.Close()

		respBody, _ := readAll(resp)
		id, _ := parseID(respBody)

		return Outcome{QliqID: id, CleanedError: true, MarkSent: true}, nil
	}

	resp, err := c.do(ctx, http.MethodPut, "/Groups/"+qliqID, body)
	if err != nil {
		var statusErr *StatusError
		if isStatusError(err, &statusErr) {
			if statusErr.StatusCode == http.StatusNotFound {
				return Outcome{IsDeleted: true, WebserverError: http.StatusNotFound, MarkSent: true}, nil
			}

			if IsPermanent(err) {
				return Outcome{WebserverError: statusErr.StatusCode}, nil
			}
		}

		return Outcome{}, err
	}
	defer resp.Body.Close()

	return Outcome{QliqID: qliqID, CleanedError: true, MarkSent: true, Updated: true}, nil
}

func (c *Client) deleteResource(ctx context.Context, path string) (Outcome, error) {
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		var statusErr *StatusError
		if isStatusError(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return Outcome{MarkSent: true}, nil
		}

		return Outcome{}, err
	}
	defer resp.Body.Close()

	return Outcome{MarkSent: true}, nil
}

func isStatusError(err error, target **StatusError) bool {
	return errors.As(err, target)
}

func readAll(resp *http.Response) ([]byte, error) {
	return io.ReadAll(resp.Body)
}

package daemon

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/publish"
	"github.com/timofeysmykov/print-queue-agent/internal/queue"
	"github.com/timofeysmykov/print-queue-agent/internal/store"
	"github.com/timofeysmykov/print-queue-agent/internal/uds"
)

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.CmdPing, d.handlePing)
	d.server.Handle(uds.CmdEvaluate, d.handleEvaluate)
	d.server.Handle(uds.CmdQueue, d.handleQueue)
	d.server.Handle(uds.CmdReport, d.handleReport)
	d.server.Handle(uds.CmdOrderStatus, d.handleOrderStatus)
	d.server.Handle(uds.CmdForceOverride, d.handleForceOverride)
	d.server.Handle(uds.CmdHold, d.handleHold)
	d.server.Handle(uds.CmdRelease, d.handleRelease)
	d.server.Handle(uds.CmdShutdown, d.handleShutdown)
}

func (d *Daemon) handlePing(*uds.Request) *uds.Response {
	state, held := d.evaluator.StateNow()
	d.cfgMu.RLock()
	project := d.config.Project.Name
	d.cfgMu.RUnlock()
	return uds.SuccessResponse(map[string]any{
		"state":   string(state),
		"held":    held,
		"project": project,
	})
}

func (d *Daemon) handleEvaluate(*uds.Request) *uds.Response {
	result, err := d.evaluator.Trigger(d.ctx)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(result)
}

type queueResponse struct {
	Snapshot model.QueueSnapshot `json:"snapshot"`
	Rendered string              `json:"rendered,omitempty"`
}

func (d *Daemon) handleQueue(req *uds.Request) *uds.Response {
	var params struct {
		Render bool `json:"render"`
	}
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("bad params: %v", err))
		}
	}

	snap, ok, err := publish.New(d.dataDir).LoadSnapshot()
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	if !ok {
		return uds.ErrorResponse(uds.ErrCodeNotFound, "no queue published yet")
	}

	resp := queueResponse{Snapshot: snap}
	if params.Render {
		orders := make(map[string]model.Order, len(snap.Entries))
		for _, entry := range snap.Entries {
			if o, err := d.store.Get(entry.OrderID); err == nil {
				orders[o.ID] = o
			}
		}
		resp.Rendered = queue.RenderReport(snap.Entries, orders, d.evaluator.now())
	}
	return uds.SuccessResponse(resp)
}

func (d *Daemon) handleReport(*uds.Request) *uds.Response {
	report, ok, err := publish.New(d.dataDir).LoadReport()
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	if !ok {
		return uds.ErrorResponse(uds.ErrCodeNotFound, "no reconcile report yet")
	}
	return uds.SuccessResponse(report)
}

func (d *Daemon) handleOrderStatus(req *uds.Request) *uds.Response {
	var params struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.OrderID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "order_id is required")
	}

	order, err := d.store.Get(params.OrderID)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	}
	return uds.SuccessResponse(order)
}

type forceOverrideParams struct {
	OrderID     string `json:"order_id"`
	Revision    string `json:"revision"`
	CustomerID  string `json:"customer_id,omitempty"`
	Customer    string `json:"customer,omitempty"`
	Tier        string `json:"tier,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
	Description string `json:"description,omitempty"`
	Deadline    string `json:"deadline,omitempty"`
	Status      string `json:"status,omitempty"`
}

// handleForceOverride is the conflict escape hatch: it applies the given
// record fields regardless of revision ordering and optionally forces a
// status transition. The transition still has to be legal.
func (d *Daemon) handleForceOverride(req *uds.Request) *uds.Response {
	var params forceOverrideParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("bad params: %v", err))
	}
	if params.OrderID == "" || params.Revision == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "order_id and revision are required")
	}

	existing, err := d.store.Get(params.OrderID)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	}

	override := existing
	override.Revision = params.Revision
	if params.CustomerID != "" {
		override.CustomerID = params.CustomerID
	}
	if params.Customer != "" {
		override.Customer = params.Customer
	}
	if params.Tier != "" {
		override.Tier = params.Tier
	}
	if params.Quantity != "" {
		override.Quantity = params.Quantity
	}
	if params.Description != "" {
		override.Description = params.Description
	}
	if params.Deadline != "" {
		override.Deadline = params.Deadline
	}

	if _, err := d.store.Upsert(override, true); err != nil {
		return storeErrorResponse(err)
	}
	d.log(LogLevelInfo, "force override applied order=%s revision=%s", params.OrderID, params.Revision)
	d.auditAdmin("force_override", params.OrderID, map[string]any{"revision": params.Revision})

	if params.Status != "" {
		to := model.Status(params.Status)
		if !model.IsValidStatus(to) {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("unknown status %q", params.Status))
		}
		if err := d.store.MarkStatus(params.OrderID, to); err != nil {
			return storeErrorResponse(err)
		}
		d.auditAdmin("force_status", params.OrderID, map[string]any{"to": params.Status})
	}

	updated, err := d.store.Get(params.OrderID)
	if err != nil {
		return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
	}
	return uds.SuccessResponse(updated)
}

// handleHold holds one order out of the queue when order_id is given, or
// pauses automatic evaluation entirely when it is not.
func (d *Daemon) handleHold(req *uds.Request) *uds.Response {
	orderID, resp := optionalOrderID(req)
	if resp != nil {
		return resp
	}
	if orderID == "" {
		d.evaluator.Hold()
		d.auditAdmin("hold", "", nil)
		return uds.SuccessResponse(map[string]string{"status": "held"})
	}
	if err := d.evaluator.HoldOrder(orderID); err != nil {
		return storeErrorResponse(err)
	}
	d.auditAdmin("hold", orderID, nil)
	return uds.SuccessResponse(map[string]string{"status": "held", "order_id": orderID})
}

func (d *Daemon) handleRelease(req *uds.Request) *uds.Response {
	orderID, resp := optionalOrderID(req)
	if resp != nil {
		return resp
	}
	if orderID == "" {
		d.evaluator.Release()
		d.auditAdmin("release", "", nil)
		return uds.SuccessResponse(map[string]string{"status": "released"})
	}
	if err := d.evaluator.ReleaseOrder(orderID); err != nil {
		return storeErrorResponse(err)
	}
	d.auditAdmin("release", orderID, nil)
	return uds.SuccessResponse(map[string]string{"status": "released", "order_id": orderID})
}

func optionalOrderID(req *uds.Request) (string, *uds.Response) {
	if len(req.Params) == 0 {
		return "", nil
	}
	var params struct {
		OrderID string `json:"order_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return "", uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("bad params: %v", err))
	}
	return params.OrderID, nil
}

func (d *Daemon) handleShutdown(*uds.Request) *uds.Response {
	d.log(LogLevelInfo, "shutdown requested via admin socket")
	go d.Shutdown()
	return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
}

func (d *Daemon) auditAdmin(action, orderID string, details map[string]any) {
	if d.audit == nil {
		return
	}
	entry := map[string]any{"action": action}
	if orderID != "" {
		entry["order_id"] = orderID
	}
	for k, v := range details {
		entry[k] = v
	}
	if err := d.audit.Log("admin_"+action, entry); err != nil {
		d.log(LogLevelWarn, "audit admin action: %v", err)
	}
}

func storeErrorResponse(err error) *uds.Response {
	var stale *store.StaleWriteError
	if errors.As(err, &stale) {
		if stale.Relation == model.RevisionDiverged {
			return uds.ErrorResponse(uds.ErrCodeConflict, err.Error())
		}
		return uds.ErrorResponse(uds.ErrCodeStaleWrite, err.Error())
	}
	var invalid *store.InvalidTransitionError
	if errors.As(err, &invalid) {
		return uds.ErrorResponse(uds.ErrCodeInvalidTransition, err.Error())
	}
	var notFound *store.NotFoundError
	if errors.As(err, &notFound) {
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	}
	return uds.ErrorResponse(uds.ErrCodeInternal, err.Error())
}

package refill

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tos-network/refilld/provider"
	"github.com/tos-network/refilld/provider/fireblocks"
	"github.com/tos-network/refilld/provider/liminal"
	"github.com/tos-network/refilld/types"
)

// Snapshot is the normalized view of one raw provider response: the fields
// the differ compares against the persisted row, plus the response verbatim.
type Snapshot struct {
	ProviderTxID string
	TxHash       string
	RawStatus    string
	Message      string
	Raw          json.RawMessage
}

// MapStatus normalizes a provider's raw status into the internal state
// machine. Unknown raw statuses map to PROCESSING: treating an unrecognized
// custody state as live keeps the monitor polling it instead of freezing the
// row.
func MapStatus(providerName, raw string) types.Status {
	switch strings.ToLower(providerName) {
	case liminal.ProviderName:
		switch strings.TrimSpace(raw) {
		case "1", "2":
			return types.StatusProcessing
		case "4":
			return types.StatusCompleted
		case "5":
			return types.StatusFailed
		}
		return types.StatusProcessing
	case fireblocks.ProviderName:
		switch strings.ToUpper(strings.TrimSpace(raw)) {
		case "COMPLETED":
			return types.StatusCompleted
		case "CANCELLED", "BLOCKED", "REJECTED", "FAILED":
			return types.StatusFailed
		case "SUBMITTED", "PENDING_AML_SCREENING", "PENDING_ENRICHMENT",
			"PENDING_AUTHORIZATION", "QUEUED", "PENDING_SIGNATURE",
			"PENDING_3RD_PARTY_MANUAL_APPROVAL", "PENDING_3RD_PARTY",
			"BROADCASTING", "CONFIRMING", "CANCELLING":
			return types.StatusProcessing
		}
		return types.StatusProcessing
	}
	return types.StatusProcessing
}

// ExtractSnapshot normalizes a raw provider response. Liminal nests the
// transfer under a data object and reports numeric statuses; Fireblocks
// answers top-level with string statuses. Field aliases (note, message,
// comment, subStatus) are folded into Message.
func ExtractSnapshot(providerName string, raw json.RawMessage) (*Snapshot, error) {
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.UseNumber()
	var body map[string]interface{}
	if err := decoder.Decode(&body); err != nil {
		return nil, fmt.Errorf("refill: decoding %s response: %w", providerName, err)
	}
	// Prefer the nested data object when present.
	fields := body
	if nested, ok := body["data"].(map[string]interface{}); ok {
		fields = nested
	}

	snap := &Snapshot{Raw: raw}
	snap.ProviderTxID = firstString(fields, "identifier", "id", "provider_tx_id")
	snap.TxHash = firstString(fields, "txHash", "tx_hash", "transactionHash")
	snap.RawStatus = firstString(fields, "status")
	snap.Message = firstString(fields, "note", "message", "comment", "subStatus")
	if snap.RawStatus == "" {
		return nil, fmt.Errorf("refill: %s response carries no status", providerName)
	}
	return snap, nil
}

// SnapshotFromTransfer adapts a transfer-creation result into the snapshot
// shape the differ consumes.
func SnapshotFromTransfer(result *provider.TransferResult) *Snapshot {
	return &Snapshot{
		ProviderTxID: result.ProviderTxID,
		RawStatus:    result.RawStatus,
		Message:      result.Message,
		Raw:          result.Raw,
	}
}

// Diff compares the persisted row with a fresh snapshot and produces the
// minimal patch. Rules: status is omitted when the mapped status is
// unchanged, even if the raw provider status moved, so intermediate custody
// states flow through without internal transitions; provider_data rides
// along whenever provider_status changes; empty snapshot fields never
// overwrite stored values.
func Diff(stored *types.RefillTransaction, snap *Snapshot) *types.TransactionPatch {
	patch := &types.TransactionPatch{}

	if snap.RawStatus != "" && snap.RawStatus != stored.ProviderStatus {
		raw := snap.RawStatus
		patch.ProviderStatus = &raw
		patch.ProviderData = snap.Raw
	}
	if mapped := MapStatus(stored.Provider, snap.RawStatus); snap.RawStatus != "" && mapped != stored.Status {
		status := mapped
		patch.Status = &status
	}
	if snap.ProviderTxID != "" && snap.ProviderTxID != stored.ProviderTxID {
		id := snap.ProviderTxID
		patch.ProviderTxID = &id
	}
	if snap.TxHash != "" && snap.TxHash != stored.TxHash {
		hash := snap.TxHash
		patch.TxHash = &hash
	}
	if snap.Message != "" && snap.Message != stored.Message {
		msg := snap.Message
		patch.Message = &msg
	}
	return patch
}

// firstString returns the first present alias rendered as a string. Numeric
// values (liminal statuses) are rendered in their decimal form.
func firstString(fields map[string]interface{}, aliases ...string) string {
	for _, alias := range aliases {
		switch v := fields[alias].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

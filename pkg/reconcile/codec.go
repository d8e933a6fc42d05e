package reconcile

import (
	"encoding/json"

	"finsync/pkg/logging"
	"finsync/pkg/record"
	"finsync/pkg/remote"

	"go.uber.org/zap"
)

// Fields owned by the remote store. They are never sent in a document body.
var storeFields = []string{"id", "createdAt", "updatedAt"}

// encode turns a record into the body of a remote document. Fields listed
// in clear are sent as null so that an update removes them remotely.
func encode(rec any, clear ...string) (json.RawMessage, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for _, f := range storeFields {
		delete(fields, f)
	}
	for _, f := range clear {
		if _, ok := fields[f]; !ok {
			fields[f] = json.RawMessage("null")
		}
	}
	return json.Marshal(fields)
}

// decode reads the records of a snapshot. Documents that cannot be decoded
// are logged and skipped so one bad document does not hide the others.
func decode[T any](docs []remote.Document, logger *logging.Logger, fill func(*T, remote.Document)) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var rec T
		if err := json.Unmarshal(doc.Data, &rec); err != nil {
			logger.Warn("skipping undecodable document", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		fill(&rec, doc)
		out = append(out, rec)
	}
	return out
}

func fillTransaction(tx *record.Transaction, doc remote.Document) {
	tx.ID = doc.ID
	tx.CreatedAt = doc.CreatedAt
	tx.UpdatedAt = doc.UpdatedAt
}

func fillGoal(g *record.SavingsGoal, doc remote.Document) {
	g.ID = doc.ID
	g.CreatedAt = doc.CreatedAt
	g.UpdatedAt = doc.UpdatedAt
	g.Recompute()
}

// ownTransactions stamps userID on records written by clients that left
// the owner out.
func ownTransactions(txs []record.Transaction, userID string) {
	for i := range txs {
		if txs[i].UserID == "" {
			txs[i].UserID = userID
		}
	}
}

func ownGoals(goals []record.SavingsGoal, userID string) {
	for i := range goals {
		if goals[i].UserID == "" {
			goals[i].UserID = userID
		}
	}
}

// reattach copies attachments held only locally onto the snapshot records
// whose remote copy lacks them.
func reattach(incoming, local []record.Transaction) []record.Transaction {
	kept := make(map[string]string)
	for _, tx := range local {
		if tx.HasAttachment() {
			kept[tx.ID] = tx.Attachment
		}
	}
	if len(kept) == 0 {
		return incoming
	}
	for i := range incoming {
		if a, ok := kept[incoming[i].ID]; ok && !incoming[i].HasAttachment() {
			incoming[i].Attachment = a
		}
	}
	return incoming
}

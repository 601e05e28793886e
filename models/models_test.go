package models_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"dag-learning/models"
)

func TestTransactionIDIsContentDerived(t *testing.T) {
	refs := []models.Reference{{TxID: "p", Eval: models.EvalResult{Accuracy: 0.5, Samples: 10, Valid: true}}}
	a := models.NewTransaction(models.TxSolve, "task", "n0", "m1", 4, refs)
	b := models.NewTransaction(models.TxSolve, "task", "n0", "m1", 4, refs)
	c := models.NewTransaction(models.TxSolve, "task", "n0", "m1", 5, refs)

	require.Len(t, a.ID, 64)
	require.Equal(t, a.ID, b.ID)
	require.NotEqual(t, a.ID, c.ID)
	require.Equal(t, models.NewGenesis().ID, models.NewGenesis().ID)
	require.True(t, models.NewGenesis().IsGenesis())
}

func TestTransactionReferencesAreCopies(t *testing.T) {
	refs := []models.Reference{{TxID: "p1"}, {TxID: "p2"}}
	tx := models.NewTransaction(models.TxSolve, "task", "n0", "m1", 1, refs)

	refs[0].TxID = "changed"
	require.Equal(t, []string{"p1", "p2"}, tx.ParentIDs())

	got := tx.References()
	got[1].TxID = "changed"
	require.Equal(t, []string{"p1", "p2"}, tx.ParentIDs())
}

func TestTransactionMeta(t *testing.T) {
	tx := models.NewTransaction(models.TxOpen, "task", "n0", "base", 0, []models.Reference{{TxID: "g"}})
	meta := tx.Meta()
	require.Equal(t, tx.ID, meta["tx_id"])
	require.Equal(t, "OPEN", meta["type"])
	require.Equal(t, []string{"g"}, meta["references"])
}

func TestErrorRate(t *testing.T) {
	require.Equal(t, 100.0, models.EvalResult{}.ErrorRate())
	require.InDelta(t, 25.0, models.EvalResult{Accuracy: 0.75, Valid: true}.ErrorRate(), 1e-9)
}

func TestWeightsClone(t *testing.T) {
	w := models.Weights{"a": {1, 2}}
	c := w.Clone()
	c["a"][0] = 9
	require.Equal(t, 1.0, w["a"][0])
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	refs := []models.Reference{{TxID: "p", Eval: models.EvalResult{Loss: 0.25, Accuracy: 0.5, Samples: 10, Valid: true}}}
	tx := models.NewTransaction(models.TxSolve, "task", "n0", "m1", 4, refs)

	data, err := json.Marshal(tx)
	require.NoError(t, err)
	require.Contains(t, string(data), `"references":[{"tx_id":"p"`)

	var got models.Transaction
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, tx, got)
	require.Equal(t, 1, got.NumReferences())

	// the decoded record still hashes to its id
	again := models.NewTransaction(got.Type, got.TaskID, got.Owner, got.ModelID, got.Timestamp, got.References())
	require.Equal(t, got.ID, again.ID)
}

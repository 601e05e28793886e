package node

import (
	"fmt"

	"go.uber.org/zap"

	"dag-learning/models"
	"dag-learning/policy"
)

// WillGetTransaction queues tx for the node's next RECEIVING phase. Peers
// call it while publishing.
func (n *Node) WillGetTransaction(tx models.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recvBuf = append(n.recvBuf, tx)
}

// WillSendTransaction queues tx for the node's next PUBLISHING phase.
func (n *Node) WillSendTransaction(tx models.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendBuf = append(n.sendBuf, tx)
}

// PendingSend returns a copy of the send buffer.
func (n *Node) PendingSend() []models.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Transaction(nil), n.sendBuf...)
}

// PendingReceive returns a copy of the receive buffer.
func (n *Node) PendingReceive() []models.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Transaction(nil), n.recvBuf...)
}

// getTransaction stores tx if it is new, queues it for rebroadcast and
// sometimes evaluates its model for the ledger.
func (n *Node) getTransaction(tx models.Transaction) {
	if n.ledger.HasTransaction(tx) {
		return
	}
	if err := n.ledger.AddTransaction(tx); err != nil {
		n.log.Warn("Rejected transaction", zap.String("tx_id", tx.ID), zap.Error(err))
		return
	}
	n.WillSendTransaction(tx)

	if n.rng.Float64() < n.evalRate && tx.Owner != n.id {
		m, ok := n.table.Get(tx.ModelID)
		if !ok {
			n.log.Warn("Model of received transaction is not published",
				zap.String("tx_id", tx.ID), zap.String("model_id", tx.ModelID))
			return
		}
		if err := n.ledger.EvaluateAndRecordModel(m); err != nil {
			n.log.Warn("Failed recording evaluation",
				zap.String("model_id", tx.ModelID), zap.Error(err))
		}
	}
}

// GetTransactionsFromBuffer runs the RECEIVING phase: it drains the receive
// buffer in arrival order and emits one TX_RECEIVED per entry.
func (n *Node) GetTransactionsFromBuffer() []models.Event {
	n.mu.Lock()
	n.phase = Receiving
	received := n.recvBuf
	n.recvBuf = nil
	n.mu.Unlock()
	defer n.setPhase(Idle)

	events := make([]models.Event, 0, len(received))
	for _, tx := range received {
		n.getTransaction(tx)
		events = append(events, models.NewEvent(models.TxReceived, map[string]interface{}{
			"node_id": n.id,
			"tx_id":   tx.ID,
		}))
	}
	return events
}

// SendTxsInBuffer runs the PUBLISHING phase: every queued transaction is
// delivered to every adjacent peer, then the send buffer is emptied.
func (n *Node) SendTxsInBuffer(reg *Registry) []models.Event {
	n.mu.Lock()
	n.phase = Publishing
	sending := n.sendBuf
	n.sendBuf = nil
	adjacent := append([]int(nil), n.adjacent...)
	n.mu.Unlock()
	defer n.setPhase(Idle)

	var events []models.Event
	for _, tx := range sending {
		for _, idx := range adjacent {
			peer := reg.Get(idx)
			if peer == nil {
				n.log.Warn("Unknown peer", zap.Int("peer", idx))
				continue
			}
			peer.WillGetTransaction(tx)
			events = append(events, models.NewEvent(models.TxSent, map[string]interface{}{
				"from":  n.id,
				"to":    peer.id,
				"tx_id": tx.ID,
			}))
		}
	}
	return events
}

// SelectTransactions refreshes the selection policy and asks for its choice.
func (n *Node) SelectTransactions() []models.Transaction {
	n.selection.Update(n.ledger)
	return n.selection.Select(n.ledger)
}

// Update runs the SELECTING phase: aggregate the selected models and, if the
// comparison policy accepts the result, publish it with a new SOLVE
// transaction. A rejected candidate leaves the node untouched.
func (n *Node) Update(task models.Task) ([]models.Event, error) {
	n.setPhase(Selecting)
	defer n.setPhase(Idle)

	var events []models.Event
	selected := n.SelectTransactions()
	current := n.CurrentModel()
	if len(selected) == 0 || current == nil {
		return events, nil
	}

	selectedModels := make([]models.Model, 0, len(selected))
	modelIDs := make([]string, 0, len(selected))
	for _, tx := range selected {
		m, ok := n.table.Get(tx.ModelID)
		if !ok {
			return events, fmt.Errorf("selected model %s is not published", tx.ModelID)
		}
		selectedModels = append(selectedModels, m)
		modelIDs = append(modelIDs, tx.ModelID)
	}
	report := n.selection.LastResult()
	events = append(events, models.NewEvent(models.ModelSelected, map[string]interface{}{
		"node_id":         n.id,
		"policy":          string(n.selection.Type()),
		"model_list":      modelIDs,
		"scores":          report.Scores,
		"scanned":         report.Scanned,
		"elapsed_seconds": report.Elapsed.Seconds(),
	}))
	n.log.Debug("Models selected",
		zap.Strings("model_list", modelIDs),
		zap.Int("scanned", report.Scanned),
		zap.Duration("elapsed", report.Elapsed))

	candidate, err := n.updating.Update(selectedModels, task, n.clock.Now())
	if err != nil {
		return events, fmt.Errorf("aggregate: %w", err)
	}
	candidate = policy.ApplyByzantine(n.byzantine, candidate, current, n.rng)

	newEval := n.TestEvaluation(candidate)
	prevEval := n.TestEvaluation(current)
	if !n.comparison.Satisfied(prevEval, newEval) {
		n.log.Debug("Candidate rejected",
			zap.String("model_id", candidate.ID()),
			zap.Float64("prev_accuracy", prevEval.Accuracy),
			zap.Float64("new_accuracy", newEval.Accuracy))
		return events, nil
	}
	events = append(events, models.NewEvent(models.CompareSatisfied, map[string]interface{}{
		"node_id":   n.id,
		"policy":    string(n.updating.Type()),
		"prev_eval": prevEval,
		"new_eval":  newEval,
	}))

	uploaded, err := n.uploadModel(candidate)
	if err != nil {
		return events, err
	}
	events = append(events, uploaded)

	refs := make([]models.Reference, len(selected))
	for i, tx := range selected {
		eval := n.ledger.GetEvaluationResult(tx.ModelID)
		refs[i] = models.Reference{TxID: tx.ID, Eval: policy.ReportedEvaluation(n.byzantine, eval)}
	}
	tx, err := n.makeNewTransaction(models.TxSolve, n.taskID, candidate.ID(), refs)
	if err != nil {
		return events, err
	}
	events = append(events, models.NewEvent(models.TxCreated, tx.Meta()))
	n.WillSendTransaction(tx)

	n.log.Debug("Published model", zap.String("model_id", candidate.ID()), zap.String("tx_id", tx.ID))
	return events, nil
}

// OpenTask creates the task's OPEN transaction on genesis and adopts the
// task model. Call it once per task on the originating node.
func (n *Node) OpenTask(task models.Task) (models.Transaction, error) {
	refs := []models.Reference{{TxID: n.ledger.Genesis().ID}}
	tx, err := n.makeNewTransaction(models.TxOpen, task.ID(), task.ModelID(), refs)
	if err != nil {
		return models.Transaction{}, err
	}
	if _, err := n.uploadModel(task.TaskModel()); err != nil {
		return models.Transaction{}, err
	}
	n.WillSendTransaction(tx)
	return tx, nil
}

// InitLocalTrain fits a fresh base model on the node's training data and
// publishes it. With probability txMakingRate a SOLVE transaction on the
// OPEN transaction is created as well.
func (n *Node) InitLocalTrain(task models.Task, openTx models.Transaction, txMakingRate float64) ([]models.Event, error) {
	var events []models.Event
	if err := n.ledger.AddTransaction(openTx); err != nil {
		return nil, fmt.Errorf("open transaction: %w", err)
	}

	train, _, _ := n.DataSet()
	base := task.CreateBaseModel()
	if err := base.Fit(train); err != nil {
		return nil, fmt.Errorf("local train: %w", err)
	}
	base.AddHistory(n.updating.MakeNewHistory([]string{task.ModelID()}, base, n.clock.Now()))

	events = append(events, models.NewEvent(models.InitLocalTrain, map[string]interface{}{
		"node_id":  n.id,
		"task_id":  task.ID(),
		"model_id": base.ID(),
	}))

	uploaded, err := n.uploadModel(base)
	if err != nil {
		return events, err
	}
	events = append(events, uploaded)

	n.TestEvaluation(base)
	if n.rng.Float64() < txMakingRate {
		eval := policy.ReportedEvaluation(n.byzantine, n.TestEvaluation(task.TaskModel()))
		refs := []models.Reference{{TxID: openTx.ID, Eval: eval}}
		tx, err := n.makeNewTransaction(models.TxSolve, task.ID(), base.ID(), refs)
		if err != nil {
			return events, err
		}
		events = append(events, models.NewEvent(models.TxCreated, tx.Meta()))
		n.WillSendTransaction(tx)
	}
	return events, nil
}

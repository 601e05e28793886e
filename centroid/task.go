package centroid

import (
	"fmt"
	"sync/atomic"

	"dag-learning/models"
)

// Task hands out nearest-centroid models with sequential ids.
type Task struct {
	id        string
	classes   int
	features  int
	taskModel *Model
	seq       uint64
}

// NewTask creates a task whose reference model is fitted on ref.
func NewTask(id string, classes, features int, ref models.Dataset) (*Task, error) {
	t := &Task{id: id, classes: classes, features: features}
	t.taskModel = NewModel(id+"-base", classes, features)
	if err := t.taskModel.Fit(ref); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Task) ID() string      { return t.id }
func (t *Task) ModelID() string { return t.taskModel.ID() }

func (t *Task) TaskModel() models.Model { return t.taskModel }

func (t *Task) CreateBaseModel() models.Model {
	n := atomic.AddUint64(&t.seq, 1)
	return NewModel(fmt.Sprintf("%s-m%d", t.id, n), t.classes, t.features)
}

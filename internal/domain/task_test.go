package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	input := json.RawMessage(`{"value":"hi"}`)
	runAfter := time.Now().UTC().Add(time.Minute)

	task, err := NewTask("test.echo", input, &runAfter)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, task.ID)
	assert.Equal(t, "test.echo", task.Type)
	assert.Equal(t, TaskStatusToDo, task.Status)
	assert.Equal(t, 1, task.Version)
	assert.Equal(t, 0, task.Attempts)
	assert.Equal(t, input, task.Input)
	require.NotNil(t, task.RunAfter)
	assert.Equal(t, runAfter, *task.RunAfter)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestNewTaskIDsSortByCreation(t *testing.T) {
	// UUIDv7 IDs embed a timestamp, so later tasks compare greater.
	first, err := NewTask("test.echo", nil, nil)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)

	second, err := NewTask("test.echo", nil, nil)
	require.NoError(t, err)

	assert.Less(t, first.ID.String(), second.ID.String())
}

func TestNewTaskRequiresType(t *testing.T) {
	_, err := NewTask("", nil, nil)
	assert.ErrorIs(t, err, ErrEmptyTaskType)
}

func TestTaskValidate(t *testing.T) {
	valid, err := NewTask("test.echo", nil, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr error
	}{
		{"valid", func(*Task) {}, nil},
		{"missing ID", func(task *Task) { task.ID = uuid.Nil }, ErrEmptyTaskID},
		{"missing type", func(task *Task) { task.Type = "" }, ErrEmptyTaskType},
		{"bad status", func(task *Task) { task.Status = "bogus" }, ErrInvalidTaskStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := *valid
			tt.mutate(&task)

			err := task.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestTaskCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{TaskStatusToDo, TaskStatusInProgress, true},
		{TaskStatusToDo, TaskStatusSuccess, false},
		{TaskStatusToDo, TaskStatusFailed, false},
		{TaskStatusInProgress, TaskStatusSuccess, true},
		{TaskStatusInProgress, TaskStatusFailed, true},
		{TaskStatusInProgress, TaskStatusToDo, false},
		{TaskStatusFailed, TaskStatusInProgress, true},
		{TaskStatusFailed, TaskStatusSuccess, false},
		{TaskStatusSuccess, TaskStatusInProgress, false},
		{TaskStatusSuccess, TaskStatusFailed, false},
	}

	for _, tt := range tests {
		task := Task{Status: tt.from}
		assert.Equal(t, tt.allowed, task.CanTransitionTo(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestTaskTerminal(t *testing.T) {
	const maxAttempts = 3

	assert.True(t, (&Task{Status: TaskStatusSuccess}).Terminal(maxAttempts))
	assert.True(t, (&Task{Status: TaskStatusFailed, Attempts: 3}).Terminal(maxAttempts))
	assert.False(t, (&Task{Status: TaskStatusFailed, Attempts: 2}).Terminal(maxAttempts),
		"failed with budget left can still be retried")
	assert.False(t, (&Task{Status: TaskStatusToDo}).Terminal(maxAttempts))
	assert.False(t, (&Task{Status: TaskStatusInProgress, Attempts: 3}).Terminal(maxAttempts))
}

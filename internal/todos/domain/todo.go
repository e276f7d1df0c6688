package domain

import (
	"errors"
	"strings"
)

// ErrEmptyDescription is returned when a todo has no description.
var ErrEmptyDescription = errors.New("description is required")

// Todo is a single entry of the persisted list.
type Todo struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// Validate ensures the todo can be stored.
func (t Todo) Validate() error {
	if strings.TrimSpace(t.Description) == "" {
		return ErrEmptyDescription
	}
	return nil
}

// ActionType names a list mutation. The values are part of the stored event
// vocabulary and must not change.
type ActionType string

const (
	ActionAdd    ActionType = "[TODO] Add Todo"
	ActionRemove ActionType = "[TODO] Remove Todo"
	ActionToggle ActionType = "[TODO] Toggle Todo"
)

// Action is dispatched to Reduce. Add uses Todo; Remove and Toggle use ID.
type Action struct {
	Type ActionType `json:"type"`
	Todo Todo       `json:"todo,omitzero"`
	ID   string     `json:"id,omitempty"`
}

func Add(todo Todo) Action    { return Action{Type: ActionAdd, Todo: todo} }
func Remove(id string) Action { return Action{Type: ActionRemove, ID: id} }
func Toggle(id string) Action { return Action{Type: ActionToggle, ID: id} }

// Reduce returns the list that results from applying action to todos. The
// input slice is never modified. Unknown action types and unknown IDs leave
// the list unchanged.
func Reduce(todos []Todo, action Action) []Todo {
	switch action.Type {
	case ActionAdd:
		next := make([]Todo, 0, len(todos)+1)
		next = append(next, todos...)
		return append(next, action.Todo)

	case ActionRemove:
		next := make([]Todo, 0, len(todos))
		for _, todo := range todos {
			if todo.ID != action.ID {
				next = append(next, todo)
			}
		}
		return next

	case ActionToggle:
		next := make([]Todo, len(todos))
		for i, todo := range todos {
			if todo.ID == action.ID {
				todo.Done = !todo.Done
			}
			next[i] = todo
		}
		return next

	default:
		return todos
	}
}

// Pending counts todos that are not done.
func Pending(todos []Todo) int {
	n := 0
	for _, todo := range todos {
		if !todo.Done {
			n++
		}
	}
	return n
}

// Find returns the todo with id.
func Find(todos []Todo, id string) (Todo, bool) {
	for _, todo := range todos {
		if todo.ID == id {
			return todo, true
		}
	}
	return Todo{}, false
}

package world

import "sync"

// Command is a deferred world mutation.
type Command func(*World)

// CommandBuffer collects mutations discovered while iterating entities and
// applies them after the iteration completes, so passes never mutate the
// entity map mid-walk. Push is safe from parallel detection workers; Flush
// runs on the simulation goroutine only.
type CommandBuffer struct {
	mu   sync.Mutex
	cmds []Command
}

func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{}
}

// Push queues a mutation.
func (b *CommandBuffer) Push(cmd Command) {
	b.mu.Lock()
	b.cmds = append(b.cmds, cmd)
	b.mu.Unlock()
}

// PushDespawn queues removal of an entity.
func (b *CommandBuffer) PushDespawn(id EntityID) {
	b.Push(func(w *World) {
		w.Despawn(id)
	})
}

// Len returns the number of queued commands.
func (b *CommandBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cmds)
}

// Flush applies all queued commands in push order and clears the buffer.
// Commands queued by other commands during the flush run in the same pass.
func (b *CommandBuffer) Flush(w *World) {
	for {
		b.mu.Lock()
		batch := b.cmds
		b.cmds = nil
		b.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, cmd := range batch {
			cmd(w)
		}
	}
}

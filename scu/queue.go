package scu

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	dicomerrors "github.com/caio-sobreiro/storescu/errors"
)

// maxPathLength bounds the source paths accepted into the queue.
const maxPathLength = 1024

// WorkQueue holds the transfer items in enumeration order. It is owned by
// the goroutine driving the Dispatcher and is not safe for concurrent use.
type WorkQueue struct {
	items []*TransferItem

	// outstanding indexes sent, unacknowledged items by message ID.
	outstanding map[uint16]*TransferItem

	logger *slog.Logger
}

// NewWorkQueue creates an empty queue.
func NewWorkQueue(logger *slog.Logger) *WorkQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkQueue{
		outstanding: make(map[uint16]*TransferItem),
		logger:      logger,
	}
}

// Add appends one source and returns its index. Rejected paths are logged
// and reported without affecting the items already queued.
func (q *WorkQueue) Add(path string) (int, error) {
	if path == "" {
		q.logger.Warn("Skipping empty source path")
		return -1, fmt.Errorf("empty source path")
	}
	if len(path) > maxPathLength {
		q.logger.Warn("Skipping source path that is too long", "length", len(path))
		return -1, fmt.Errorf("source path longer than %d bytes", maxPathLength)
	}

	q.items = append(q.items, &TransferItem{SourcePath: path})
	return len(q.items) - 1, nil
}

// EnumerateList adds one item per line of r. Blank lines and lines starting
// with '#' are ignored. It returns the number of items added.
func (q *WorkQueue) EnumerateList(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	added := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, err := q.Add(line); err != nil {
			continue
		}
		added++
	}
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("failed to read file list: %w", err)
	}
	return added, nil
}

// EnumerateListFile adds the sources named in a list file.
func (q *WorkQueue) EnumerateListFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open file list: %w", err)
	}
	defer f.Close()

	return q.EnumerateList(f)
}

// EnumerateRange adds "<n>.img" for every n from start to stop inclusive.
func (q *WorkQueue) EnumerateRange(start, stop int) error {
	if start < 0 || stop < start {
		return fmt.Errorf("invalid image range %d-%d", start, stop)
	}
	for n := start; n <= stop; n++ {
		if _, err := q.Add(strconv.Itoa(n) + ".img"); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of items.
func (q *WorkQueue) Len() int {
	return len(q.items)
}

// Item returns the item at index i.
func (q *WorkQueue) Item(i int) *TransferItem {
	return q.items[i]
}

// Items returns the items in enumeration order.
func (q *WorkQueue) Items() []*TransferItem {
	return q.items
}

// Outstanding returns the number of items sent and not yet acknowledged.
func (q *WorkQueue) Outstanding() int {
	return len(q.outstanding)
}

// FindByCorrelation returns the outstanding item with the given message ID
// whose SOP instance UID matches, or nil. Message IDs wrap at 16 bits so the
// instance UID is needed to tell a stale response from a current one.
func (q *WorkQueue) FindByCorrelation(messageID uint16, sopInstanceUID string) *TransferItem {
	item, ok := q.outstanding[messageID]
	if !ok || item.SOPInstanceUID != sopInstanceUID {
		return nil
	}
	return item
}

// MarkSent records that item i was transmitted with messageID. A message ID
// that is already outstanding leaves correlation ambiguous and is rejected.
func (q *WorkQueue) MarkSent(i int, messageID uint16) error {
	item := q.items[i]
	if item.Sent {
		return fmt.Errorf("item %d (%s) already sent", i, item.SourcePath)
	}
	if other, ok := q.outstanding[messageID]; ok {
		return fmt.Errorf("%w: message ID %d used by %s and %s",
			dicomerrors.ErrDuplicateMessageID, messageID, other.SourcePath, item.SourcePath)
	}

	item.MessageID = messageID
	item.Sent = true
	item.State = StateSent
	q.outstanding[messageID] = item
	return nil
}

// acknowledge removes item from the outstanding set.
func (q *WorkQueue) acknowledge(item *TransferItem) {
	item.Acknowledged = true
	item.State = StateAcknowledged
	if q.outstanding[item.MessageID] == item {
		delete(q.outstanding, item.MessageID)
	}
}

// ReleaseHandle releases the request handle of item i. Releasing an item
// without a handle is a no-op.
func (q *WorkQueue) ReleaseHandle(i int) {
	q.items[i].releaseHandle()
}

// ReleaseAll releases every remaining request handle. It may be called
// more than once.
func (q *WorkQueue) ReleaseAll() {
	for _, item := range q.items {
		item.releaseHandle()
	}
}

// Summary counts items by outcome.
type Summary struct {
	Total        int
	Unread       int
	Sent         int
	Acknowledged int
	Warnings     int
	Failed       int
	Outstanding  int
}

// Summary returns the current outcome counters.
func (q *WorkQueue) Summary() Summary {
	s := Summary{Total: len(q.items), Outstanding: len(q.outstanding)}
	for _, item := range q.items {
		if item.State == StateReadFailed {
			s.Unread++
		}
		if item.Sent {
			s.Sent++
		}
		if item.Acknowledged {
			s.Acknowledged++
			if item.Category == CategoryWarning {
				s.Warnings++
			}
		}
		if item.Failed {
			s.Failed++
		}
	}
	return s
}

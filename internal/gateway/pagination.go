package gateway

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/albion/platform/internal/platform/apperr"
)

// PageArgs are the relay-style cursor pagination arguments.
type PageArgs struct {
	First  *int32
	After  *string
	Last   *int32
	Before *string
}

// pageWindow computes the [start, end) slice window for a total item count.
// Cursors encode absolute offsets, so pages stay stable while the underlying
// list only appends.
func pageWindow(args PageArgs, total int) (start, end int, err error) {
	start, end = 0, total

	if args.After != nil {
		offset, derr := decodeCursor(*args.After)
		if derr != nil {
			return 0, 0, derr
		}
		if offset+1 > start {
			start = offset + 1
		}
	}
	if args.Before != nil {
		offset, derr := decodeCursor(*args.Before)
		if derr != nil {
			return 0, 0, derr
		}
		if offset < end {
			end = offset
		}
	}
	if start > end {
		start = end
	}

	if args.First != nil {
		if *args.First < 0 {
			return 0, 0, apperr.Validation("InvalidPagination", "first must be non-negative")
		}
		if n := int(*args.First); end-start > n {
			end = start + n
		}
	}
	if args.Last != nil {
		if *args.Last < 0 {
			return 0, 0, apperr.Validation("InvalidPagination", "last must be non-negative")
		}
		if n := int(*args.Last); end-start > n {
			start = end - n
		}
	}
	return start, end, nil
}

func encodeCursor(offset int) string {
	return base64.StdEncoding.EncodeToString([]byte("cursor:" + strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return 0, apperr.Validation("InvalidCursor", "cursor is not valid base64")
	}
	var offset int
	if _, err := fmt.Sscanf(string(raw), "cursor:%d", &offset); err != nil {
		return 0, apperr.Validation("InvalidCursor", "cursor payload malformed")
	}
	return offset, nil
}

// pageInfoResolver renders the PageInfo object.
type pageInfoResolver struct {
	hasNext, hasPrev bool
	start, end       *string
}

func (r *pageInfoResolver) HasNextPage() bool     { return r.hasNext }
func (r *pageInfoResolver) HasPreviousPage() bool { return r.hasPrev }
func (r *pageInfoResolver) StartCursor() *string  { return r.start }
func (r *pageInfoResolver) EndCursor() *string    { return r.end }

package shareddoc

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire layout (protobuf wire format, no schema compilation):
//
//	Delta { repeated bytes op = 1; }
//	Op    { kind = 1; id = 2; document_id = 3; start = 4 (sint); end = 5 (sint);
//	        tag_id = 6 (absent when nil); author_id = 7; created_at = 8 (sint unix nanos);
//	        stamp_counter = 9; stamp_site = 10; highlight_id = 11; body = 12;
//	        origin_counter = 13; origin_site = 14; value = 15; }
//
// Fields are always written in number order, so equal deltas encode to equal bytes.

const (
	kindHighlightInsert = iota + 1
	kindHighlightDelete
	kindCommentInsert
	kindCommentDelete
	kindTagSet
	kindDraftInsert
	kindDraftDelete
)

const (
	fieldKind protowire.Number = iota + 1
	fieldID
	fieldDocumentID
	fieldStart
	fieldEnd
	fieldTagID
	fieldAuthorID
	fieldCreatedAt
	fieldStampCounter
	fieldStampSite
	fieldHighlightID
	fieldBody
	fieldOriginCounter
	fieldOriginSite
	fieldValue
)

var ErrMalformedDelta = errors.New("malformed delta")

func EncodeDelta(d Delta) []byte {
	var b []byte
	for _, op := range d {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeOp(op))
	}
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(v))
}

func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func appendStamp(b []byte, counter, site protowire.Number, s Stamp) []byte {
	b = appendVarint(b, counter, s.Counter)
	return appendString(b, site, s.Site)
}

func encodeOp(op Op) []byte {
	var b []byte
	switch o := op.(type) {
	case HighlightInsert:
		h := o.Highlight
		b = appendVarint(b, fieldKind, kindHighlightInsert)
		b = appendString(b, fieldID, h.ID)
		b = appendString(b, fieldDocumentID, h.DocumentID)
		b = appendSint(b, fieldStart, int64(h.Start))
		b = appendSint(b, fieldEnd, int64(h.End))
		if h.TagID != nil {
			b = appendString(b, fieldTagID, *h.TagID)
		}
		b = appendString(b, fieldAuthorID, h.AuthorID)
		b = appendSint(b, fieldCreatedAt, unixNanos(h.CreatedAt))
		b = appendStamp(b, fieldStampCounter, fieldStampSite, o.Stamp)
	case HighlightDelete:
		b = appendVarint(b, fieldKind, kindHighlightDelete)
		b = appendString(b, fieldID, o.ID)
	case CommentInsert:
		c := o.Comment
		b = appendVarint(b, fieldKind, kindCommentInsert)
		b = appendString(b, fieldID, c.ID)
		b = appendString(b, fieldAuthorID, c.AuthorID)
		b = appendSint(b, fieldCreatedAt, unixNanos(c.CreatedAt))
		b = appendStamp(b, fieldStampCounter, fieldStampSite, o.Stamp)
		b = appendString(b, fieldHighlightID, c.HighlightID)
		b = appendString(b, fieldBody, c.Body)
	case CommentDelete:
		b = appendVarint(b, fieldKind, kindCommentDelete)
		b = appendString(b, fieldID, o.ID)
	case TagSet:
		b = appendVarint(b, fieldKind, kindTagSet)
		if o.TagID != nil {
			b = appendString(b, fieldTagID, *o.TagID)
		}
		b = appendStamp(b, fieldStampCounter, fieldStampSite, o.Stamp)
		b = appendString(b, fieldHighlightID, o.HighlightID)
	case DraftInsert:
		b = appendVarint(b, fieldKind, kindDraftInsert)
		b = appendStamp(b, fieldStampCounter, fieldStampSite, o.ID)
		b = appendStamp(b, fieldOriginCounter, fieldOriginSite, o.Origin)
		b = appendVarint(b, fieldValue, uint64(o.Value))
	case DraftDelete:
		b = appendVarint(b, fieldKind, kindDraftDelete)
		b = appendStamp(b, fieldStampCounter, fieldStampSite, o.ID)
	}
	return b
}

// DecodeDelta parses and validates an encoded delta.
func DecodeDelta(data []byte) (Delta, error) {
	var d Delta
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, protowire.ParseError(n))
		}
		data = data[n:]

		if num != 1 || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		raw, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, protowire.ParseError(n))
		}
		data = data[n:]

		op, err := decodeOp(raw)
		if err != nil {
			return nil, err
		}
		d = append(d, op)
	}
	return d, nil
}

type opFields struct {
	kind        uint64
	id          string
	documentID  string
	start, end  int64
	tagID       *string
	authorID    string
	createdAt   int64
	stamp       Stamp
	highlightID string
	body        string
	origin      Stamp
	value       uint64
}

func decodeOp(data []byte) (Op, error) {
	var f opFields
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, protowire.ParseError(n))
		}
		data = data[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldKind:
				f.kind = v
			case fieldStart:
				f.start = protowire.DecodeZigZag(v)
			case fieldEnd:
				f.end = protowire.DecodeZigZag(v)
			case fieldCreatedAt:
				f.createdAt = protowire.DecodeZigZag(v)
			case fieldStampCounter:
				f.stamp.Counter = v
			case fieldOriginCounter:
				f.origin.Counter = v
			case fieldValue:
				f.value = v
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case fieldID:
				f.id = v
			case fieldDocumentID:
				f.documentID = v
			case fieldTagID:
				tag := v
				f.tagID = &tag
			case fieldAuthorID:
				f.authorID = v
			case fieldStampSite:
				f.stamp.Site = v
			case fieldHighlightID:
				f.highlightID = v
			case fieldBody:
				f.body = v
			case fieldOriginSite:
				f.origin.Site = v
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return f.op()
}

func (f opFields) op() (Op, error) {
	invalid := func(reason string) error {
		return fmt.Errorf("%w: kind %d: %s", ErrMalformedDelta, f.kind, reason)
	}
	stampOK := f.stamp.Counter > 0 && f.stamp.Site != ""

	switch f.kind {
	case kindHighlightInsert:
		if f.id == "" || !stampOK {
			return nil, invalid("missing id or stamp")
		}
		return HighlightInsert{
			Highlight: Highlight{
				ID:         f.id,
				DocumentID: f.documentID,
				Start:      int(f.start),
				End:        int(f.end),
				TagID:      f.tagID,
				AuthorID:   f.authorID,
				CreatedAt:  fromUnixNanos(f.createdAt),
			},
			Stamp: f.stamp,
		}, nil
	case kindHighlightDelete:
		if f.id == "" {
			return nil, invalid("missing id")
		}
		return HighlightDelete{ID: f.id}, nil
	case kindCommentInsert:
		if f.id == "" || f.highlightID == "" || !stampOK {
			return nil, invalid("missing id, highlight or stamp")
		}
		return CommentInsert{
			Comment: Comment{
				ID:          f.id,
				HighlightID: f.highlightID,
				AuthorID:    f.authorID,
				Body:        f.body,
				CreatedAt:   fromUnixNanos(f.createdAt),
			},
			Stamp: f.stamp,
		}, nil
	case kindCommentDelete:
		if f.id == "" {
			return nil, invalid("missing id")
		}
		return CommentDelete{ID: f.id}, nil
	case kindTagSet:
		if f.highlightID == "" || !stampOK {
			return nil, invalid("missing highlight or stamp")
		}
		return TagSet{HighlightID: f.highlightID, TagID: f.tagID, Stamp: f.stamp}, nil
	case kindDraftInsert:
		if !stampOK || f.value > 0x10FFFF {
			return nil, invalid("missing stamp or invalid rune")
		}
		if f.origin.Counter == 0 && f.origin.Site != "" || f.origin.Counter != 0 && f.origin.Site == "" {
			return nil, invalid("partial origin")
		}
		return DraftInsert{ID: f.stamp, Origin: f.origin, Value: rune(f.value)}, nil
	case kindDraftDelete:
		if !stampOK {
			return nil, invalid("missing stamp")
		}
		return DraftDelete{ID: f.stamp}, nil
	}
	return nil, invalid("unknown kind")
}

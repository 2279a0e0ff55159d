package materializer

import (
	"encoding/json"
	"fmt"

	"roomy.chat/model"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
	"roomy.chat/wire"
)

// neededDids collects every DID an event's bundle will need resolved
// to an entity id before materialize can run on it. Only the author
// is collected; users named in an event's own fields (addAdmin's
// user, for one) are entity ids, not DIDs.
func neededDids(ev wire.Event, author model.UserDid) []model.UserDid {
	dids := []model.UserDid{author}
	return dids
}

// Materialize turns one decoded wire event into a Bundle of SQL
// statements. resolve must already have an entry for author and every
// DID the caller collected via neededDids; Materialize never fetches
// profiles itself.
func Materialize(ev wire.Event, streamID model.StreamID, author model.UserDid, idx uint64, resolve Resolver) (Bundle, error) {
	eventID := ev.ID()
	now := nowMs()

	authorEntity, ok := resolve(author)
	if !ok {
		return Bundle{}, fmt.Errorf("materializer: author %s not resolved", author)
	}

	switch e := ev.(type) {
	case wire.CreateRoom:
		stmts := []sqlstore.Statement{
			ensureEntity(eventID, streamID, e.Parent, now),
			{
				Query: `INSERT INTO comp_room (entity, name, kind, deleted) VALUES (?, ?, ?, 0)
					ON CONFLICT(entity) DO UPDATE SET name = excluded.name, kind = excluded.kind`,
				Args:  []any{eventID, e.Name, string(e.Kind)},
				Table: "comp_room",
			},
			insertEdge(authorEntity, eventID, model.EdgeAuthor, ""),
		}
		if e.Kind == wire.RoomKindThread && !e.Parent.IsZero() {
			stmts = append(stmts, sqlstore.Statement{
				Query: `INSERT INTO comp_thread (entity, parent_room, archived) VALUES (?, ?, 0)
					ON CONFLICT(entity) DO UPDATE SET parent_room = excluded.parent_room`,
				Args:  []any{eventID, nullID(e.Parent)},
				Table: "comp_thread",
			})
		}
		return Bundle{
			Kind:       BundleSuccess,
			EventID:    eventID,
			Idx:        idx,
			Statements: stmts,
			Positioned: eventID,
			After:      e.After,
		}, nil

	case wire.DeleteRoom:
		return success(eventID, idx, []sqlstore.Statement{
			{
				Query: `UPDATE comp_room SET deleted = 1 WHERE entity = ?`,
				Args:  []any{e.Room_},
				Table: "comp_room",
			},
		}, []sid.ID{e.Room_}), nil

	case wire.SetKind:
		return success(eventID, idx, []sqlstore.Statement{
			{
				Query: `UPDATE comp_room SET kind = ? WHERE entity = ?`,
				Args:  []any{string(e.Kind), e.Room_},
				Table: "comp_room",
			},
		}, []sid.ID{e.Room_}), nil

	case wire.UpdateParent:
		return success(eventID, idx, []sqlstore.Statement{
			{
				Query: `UPDATE entities SET parent = ?, updated_at = ? WHERE id = ?`,
				Args:  []any{e.NewParent, now, e.Room_},
				Table: "entities",
			},
		}, []sid.ID{e.Room_, e.NewParent}), nil

	case wire.JoinSpace:
		return success(eventID, idx, []sqlstore.Statement{
			insertEdge(authorEntity, e.Space, model.EdgeMember, `{"can":"post"}`),
		}, []sid.ID{e.Space}), nil

	case wire.LeaveSpace:
		return success(eventID, idx, []sqlstore.Statement{
			deleteEdge(authorEntity, e.Space, model.EdgeMember),
		}, []sid.ID{e.Space}), nil

	case wire.JoinRoom:
		payload, _ := json.Marshal(map[string]string{"can": string(e.Can)})
		return success(eventID, idx, []sqlstore.Statement{
			insertEdge(authorEntity, e.Room_, model.EdgeMember, string(payload)),
		}, []sid.ID{e.Room_}), nil

	case wire.Leave:
		return success(eventID, idx, []sqlstore.Statement{
			deleteEdge(authorEntity, e.Room_, model.EdgeMember),
		}, []sid.ID{e.Room_}), nil

	case wire.AddAdmin, wire.RemoveAdmin:
		return materializeAdmin(e, eventID, idx)

	case wire.CreateMessage:
		return materializeCreateMessage(e, streamID, authorEntity, eventID, idx, now)

	case wire.EditMessage:
		return materializeEditMessage(e, eventID, idx)

	case wire.AddReaction:
		stmts := []sqlstore.Statement{
			ensureEntity(eventID, streamID, sid.Nil, now),
			{
				Query: `INSERT INTO comp_reaction (entity, target, emoji) VALUES (?, ?, ?)
					ON CONFLICT(entity) DO NOTHING`,
				Args:  []any{eventID, e.Target, e.Emoji},
				Table: "comp_reaction",
			},
			insertEdge(authorEntity, eventID, model.EdgeAuthor, ""),
		}
		return success(eventID, idx, stmts, []sid.ID{e.Target}), nil

	case wire.RemoveReaction:
		return success(eventID, idx, []sqlstore.Statement{
			{
				Query: `DELETE FROM comp_reaction WHERE target = ? AND emoji = ? AND entity IN (
					SELECT head FROM edges WHERE tail = (SELECT entity FROM comp_reaction WHERE target = ? AND emoji = ? LIMIT 1) AND label = ?
				)`,
				Args:  []any{e.Target, e.Emoji, e.Target, e.Emoji, string(model.EdgeAuthor)},
				Table: "comp_reaction",
			},
		}, []sid.ID{e.Target}), nil

	case wire.AddBridgedReaction:
		stmts := []sqlstore.Statement{
			ensureEntity(eventID, streamID, sid.Nil, now),
			{
				Query: `INSERT INTO comp_reaction (entity, target, emoji) VALUES (?, ?, ?)
					ON CONFLICT(entity) DO NOTHING`,
				Args:  []any{eventID, e.Target, e.Emoji},
				Table: "comp_reaction",
			},
			{
				Query: `INSERT INTO comp_override_meta (entity, author_name) VALUES (?, ?)
					ON CONFLICT(entity) DO UPDATE SET author_name = excluded.author_name`,
				Args:  []any{eventID, e.DisplayName},
				Table: "comp_override_meta",
			},
		}
		return success(eventID, idx, stmts, []sid.ID{e.Target}), nil

	case wire.RemoveBridgedReaction:
		return success(eventID, idx, []sqlstore.Statement{
			{
				Query: `DELETE FROM comp_reaction WHERE target = ? AND emoji = ?
					AND entity IN (SELECT entity FROM comp_override_meta WHERE author_name = ?)`,
				Args:  []any{e.Target, e.Emoji, e.DisplayName},
				Table: "comp_reaction",
			},
		}, []sid.ID{e.Target}), nil

	case wire.SetLastRead:
		return success(eventID, idx, []sqlstore.Statement{
			{
				Query: `INSERT INTO comp_last_read (entity, room, upto) VALUES (?, ?, ?)
					ON CONFLICT(entity) DO UPDATE SET upto = excluded.upto
					WHERE excluded.upto > comp_last_read.upto OR comp_last_read.room != excluded.room`,
				Args:  []any{authorEntity, e.Room_, e.Upto},
				Table: "comp_last_read",
			},
		}, []sid.ID{e.Room_}), nil

	case wire.SetInfo:
		stmts := []sqlstore.Statement{
			ensureEntity(RootEntity, streamID, sid.Nil, now),
			{
				Query: `INSERT INTO comp_info (entity, name, description, image) VALUES (?, ?, ?, ?)
					ON CONFLICT(entity) DO UPDATE SET
						name = CASE WHEN excluded.name != '' THEN excluded.name ELSE comp_info.name END,
						description = CASE WHEN excluded.description != '' THEN excluded.description ELSE comp_info.description END,
						image = CASE WHEN excluded.image != '' THEN excluded.image ELSE comp_info.image END`,
				Args:  []any{RootEntity, e.Name, e.Description, e.Image},
				Table: "comp_info",
			},
		}
		return success(eventID, idx, stmts, nil), nil

	case wire.UpdateSidebar:
		payload, _ := json.Marshal(e.Categories)
		stmts := []sqlstore.Statement{
			ensureEntity(RootEntity, streamID, sid.Nil, now),
			{
				Query: `INSERT INTO edges (head, tail, label, payload) VALUES (?, ?, ?, ?)
					ON CONFLICT(head, tail, label) DO UPDATE SET payload = excluded.payload`,
				Args:  []any{RootEntity, RootEntity, string(model.EdgeReorder), string(payload)},
				Table: "edges",
			},
		}
		return success(eventID, idx, stmts, nil), nil

	case wire.UpdateProfile:
		return success(eventID, idx, []sqlstore.Statement{
			{
				Query: `INSERT INTO comp_info (entity, name, image) VALUES (?, ?, ?)
					ON CONFLICT(entity) DO UPDATE SET
						name = CASE WHEN excluded.name != '' THEN excluded.name ELSE comp_info.name END,
						image = CASE WHEN excluded.image != '' THEN excluded.image ELSE comp_info.image END`,
				Args:  []any{authorEntity, e.Name, e.Avatar},
				Table: "comp_info",
			},
		}, nil), nil

	case wire.CreateRoomLink:
		stmts := []sqlstore.Statement{
			insertEdge(e.Room_, e.LinkToRoom, model.EdgeChild, ""),
			insertEdge(e.LinkToRoom, e.Room_, model.EdgeParent, ""),
		}
		if e.IsCreationLink {
			stmts = append(stmts, sqlstore.Statement{
				Query: `INSERT INTO comp_thread (entity, parent_room, archived) VALUES (?, ?, 0)
					ON CONFLICT(entity) DO UPDATE SET parent_room = excluded.parent_room`,
				Args:  []any{e.LinkToRoom, e.Room_},
				Table: "comp_thread",
			})
		}
		return success(eventID, idx, stmts, []sid.ID{e.Room_, e.LinkToRoom}), nil

	case wire.Unknown:
		return Bundle{Kind: BundleSuccess, EventID: eventID, Idx: idx}, nil

	default:
		return errBundle(eventID, idx, fmt.Sprintf("materializer: unhandled event type %q", ev.Type())), nil
	}
}

func materializeAdmin(ev wire.Event, eventID sid.ID, idx uint64) (Bundle, error) {
	switch e := ev.(type) {
	case wire.AddAdmin:
		return success(eventID, idx, []sqlstore.Statement{
			{
				Query: `UPDATE edges SET payload = '{"can":"admin"}' WHERE head = ? AND tail = ? AND label = ?`,
				Args:  []any{e.User, e.Scope, string(model.EdgeMember)},
				Table: "edges",
			},
		}, []sid.ID{e.User, e.Scope}), nil
	case wire.RemoveAdmin:
		return success(eventID, idx, []sqlstore.Statement{
			{
				Query: `UPDATE edges SET payload = '{"can":"post"}' WHERE head = ? AND tail = ? AND label = ?`,
				Args:  []any{e.User, e.Scope, string(model.EdgeMember)},
				Table: "edges",
			},
		}, []sid.ID{e.User, e.Scope}), nil
	default:
		return errBundle(eventID, idx, "materializer: materializeAdmin called with non-admin event"), nil
	}
}

// materializeCreateMessage builds comp_content plus whichever of the
// attachment/override extensions are present. Unlisted extension keys
// are simply not decoded — CreateMessage.Extensions keeps them around
// verbatim for anything downstream that cares.
func materializeCreateMessage(e wire.CreateMessage, streamID model.StreamID, authorEntity, eventID sid.ID, idx uint64, now int64) (Bundle, error) {
	stmts := []sqlstore.Statement{
		ensureEntity(eventID, streamID, e.Room, now),
		{
			Query: `INSERT INTO comp_content (entity, data) VALUES (?, ?)
				ON CONFLICT(entity) DO UPDATE SET data = excluded.data`,
			Args:  []any{eventID, e.Body.Data},
			Table: "comp_content",
		},
		insertEdge(authorEntity, eventID, model.EdgeAuthor, ""),
	}

	var deps []sid.ID
	var linkURL string
	if r, ok := e.Reply(); ok {
		stmts = append(stmts, insertEdge(eventID, r.Target, model.EdgeReply, ""))
		deps = append(deps, r.Target)
	}
	if e.Extensions.Has(wire.ImageExtensionKey) {
		var img wire.ImageExtension
		if err := e.Extensions.Decode(wire.ImageExtensionKey, &img); err == nil {
			stmts = append(stmts, sqlstore.Statement{
				Query: `INSERT INTO comp_image (entity, url, mime_type, width, height) VALUES (?, ?, ?, ?, ?)
					ON CONFLICT(entity) DO UPDATE SET url = excluded.url`,
				Args:  []any{eventID, img.URL, img.MimeType, img.Width, img.Height},
				Table: "comp_image",
			})
		}
	}
	if e.Extensions.Has(wire.VideoExtensionKey) {
		var v wire.VideoExtension
		if err := e.Extensions.Decode(wire.VideoExtensionKey, &v); err == nil {
			stmts = append(stmts, sqlstore.Statement{
				Query: `INSERT INTO comp_video (entity, url, mime_type) VALUES (?, ?, ?)
					ON CONFLICT(entity) DO UPDATE SET url = excluded.url`,
				Args:  []any{eventID, v.URL, v.MimeType},
				Table: "comp_video",
			})
		}
	}
	if e.Extensions.Has(wire.FileExtensionKey) {
		var f wire.FileExtension
		if err := e.Extensions.Decode(wire.FileExtensionKey, &f); err == nil {
			stmts = append(stmts, sqlstore.Statement{
				Query: `INSERT INTO comp_file (entity, url, mime_type, name, size) VALUES (?, ?, ?, ?, ?)
					ON CONFLICT(entity) DO UPDATE SET url = excluded.url`,
				Args:  []any{eventID, f.URL, f.MimeType, f.Name, f.Size},
				Table: "comp_file",
			})
		}
	}
	if e.Extensions.Has(wire.LinkExtensionKey) {
		var l wire.LinkExtension
		if err := e.Extensions.Decode(wire.LinkExtensionKey, &l); err == nil {
			stmts = append(stmts, sqlstore.Statement{
				Query: `INSERT INTO comp_link (entity, url) VALUES (?, ?)
					ON CONFLICT(entity) DO UPDATE SET url = excluded.url`,
				Args:  []any{eventID, l.URL},
				Table: "comp_link",
			})
			linkURL = l.URL
		}
	}
	if e.Extensions.Has(wire.CommentExtensionKey) {
		var c wire.CommentExtension
		if err := e.Extensions.Decode(wire.CommentExtensionKey, &c); err == nil {
			stmts = append(stmts, sqlstore.Statement{
				Query: `INSERT INTO comp_comment (entity, target, start, end) VALUES (?, ?, ?, ?)
					ON CONFLICT(entity) DO UPDATE SET target = excluded.target`,
				Args:  []any{eventID, c.Target, c.Start, c.End},
				Table: "comp_comment",
			})
			deps = append(deps, c.Target)
		}
	}
	if e.Extensions.Has(wire.AuthorOverrideExtensionKey) || e.Extensions.Has(wire.TimestampOverrideExtensionKey) {
		var a wire.AuthorOverrideExtension
		e.Extensions.Decode(wire.AuthorOverrideExtensionKey, &a)
		var ts wire.TimestampOverrideExtension
		e.Extensions.Decode(wire.TimestampOverrideExtensionKey, &ts)
		stmts = append(stmts, sqlstore.Statement{
			Query: `INSERT INTO comp_override_meta (entity, author_name, author_avatar, timestamp_ms) VALUES (?, ?, ?, ?)
				ON CONFLICT(entity) DO UPDATE SET author_name = excluded.author_name, author_avatar = excluded.author_avatar, timestamp_ms = excluded.timestamp_ms`,
			Args:  []any{eventID, a.Name, a.Avatar, ts.UnixMilli},
			Table: "comp_override_meta",
		})
	}

	return Bundle{
		Kind:       BundleSuccess,
		EventID:    eventID,
		Idx:        idx,
		Statements: stmts,
		DependsOn:  deps,
		Positioned: eventID,
		After:      e.After,
		LinkURL:    linkURL,
	}, nil
}

// materializeEditMessage either overwrites comp_content.data or, for a
// DMP-patch body, rewrites it via the apply_dmp_patch SQL UDF against
// whatever is already stored — the UDF runs inside the same statement
// so a concurrent edit of the same message still serializes correctly
// under the single-writer connection.
func materializeEditMessage(e wire.EditMessage, eventID sid.ID, idx uint64) (Bundle, error) {
	var stmt sqlstore.Statement
	if e.IsPatch() {
		stmt = sqlstore.Statement{
			Query: `UPDATE comp_content SET data = apply_dmp_patch(data, ?) WHERE entity = ?`,
			Args:  []any{e.Body.Data, e.Target},
			Table: "comp_content",
		}
	} else {
		stmt = sqlstore.Statement{
			Query: `UPDATE comp_content SET data = ? WHERE entity = ?`,
			Args:  []any{e.Body.Data, e.Target},
			Table: "comp_content",
		}
	}
	trackEdit := sqlstore.Statement{
		Query: `INSERT INTO comp_page_edits (entity, edit_count, last_patch) VALUES (?, 1, ?)
			ON CONFLICT(entity) DO UPDATE SET edit_count = comp_page_edits.edit_count + 1, last_patch = excluded.last_patch`,
		Args:  []any{e.Target, e.Body.Data},
		Table: "comp_page_edits",
	}
	return success(eventID, idx, []sqlstore.Statement{stmt, trackEdit}, []sid.ID{e.Target}), nil
}

func success(eventID sid.ID, idx uint64, stmts []sqlstore.Statement, deps []sid.ID) Bundle {
	return Bundle{Kind: BundleSuccess, EventID: eventID, Idx: idx, Statements: stmts, DependsOn: deps}
}

// RootEntity is the well-known sentinel entity id carrying a stream's
// own comp_info/sidebar-edge rows. Each stream lives in its own SQLite
// database (one materializer instance per open stream), so a single
// fixed id collides with nothing: there is never a second entity named
// by the stream itself to confuse it with. It is the largest valid id,
// not the zero id: sid.Nil binds as SQL NULL, which no lookup matches,
// and no minted id sorts after it, so it is never a predecessor.
var RootEntity = sid.MustParse("7ZZZZZZZZZZZZZZZZZZZZZZZZZ")

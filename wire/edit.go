package wire

import "roomy.chat/sid"

func init() {
	register("editMessage", func(p []byte) (Event, error) { var e EditMessage; return decodeInto(p, &e) })
}

const DMPPatchMimeType = "text/x-dmp-patch"

// EditMessage replaces or patches comp_content.data for Target. When
// Body.MimeType is DMPPatchMimeType, the materializer invokes the
// apply_dmp_patch SQL UDF against the existing content instead of
// overwriting it.
type EditMessage struct {
	Base
	Type_  string `cbor:"$type"`
	Target sid.ID `cbor:"target"`
	Body   Body   `cbor:"body"`
}

func (EditMessage) Type() string { return "editMessage" }

// IsPatch reports whether Body carries a DMP delta rather than full content.
func (e EditMessage) IsPatch() bool {
	return e.Body.MimeType == DMPPatchMimeType
}

package archive

import (
	"encoding/json"

	"eve.evalgo.org/memoryengine/internal/model"
)

func encodeDoc(doc model.ArchiveDocument) ([]byte, error) { return json.Marshal(doc) }

func decodeDoc(raw []byte, doc *model.ArchiveDocument) error { return json.Unmarshal(raw, doc) }

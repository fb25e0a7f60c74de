package conversation

import (
	"encoding/json"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// MessageID identifies a message across all branches. A message keeps the
// same ID no matter how many branches inherit it.
type MessageID uuid.UUID

func (id MessageID) MarshalJSON() ([]byte, error) {
	return json.Marshal(uuid.UUID(id))
}

func (id *MessageID) UnmarshalJSON(data []byte) error {
	var uuid uuid.UUID
	if err := json.Unmarshal(data, &uuid); err != nil {
		return err
	}
	*id = MessageID(uuid)
	return nil
}

func (id MessageID) MarshalYAML() (interface{}, error) {
	return uuid.UUID(id).String(), nil
}

func (id *MessageID) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = MessageID(parsed)
	return nil
}

func (id MessageID) String() string {
	return uuid.UUID(id).String()
}

func (id MessageID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

func NewMessageID() MessageID {
	return MessageID(uuid.New())
}

var NullMessageID = MessageID(uuid.Nil)

// BranchID identifies a conversation branch. Presentation node ids equal
// branch ids 1:1, main included.
type BranchID string

// MainBranchID is the canonical root branch. It always exists, has no
// parent and no snapshot.
const MainBranchID BranchID = "main"

func (id BranchID) String() string {
	return string(id)
}

func (id BranchID) IsZero() bool {
	return id == ""
}

func (id BranchID) IsMain() bool {
	return id == MainBranchID
}

func NewBranchID() BranchID {
	return BranchID("branch-" + uuid.NewString())
}

// NewGroupID mints an id shared by the sibling branches of one multi-model
// fan-out.
func NewGroupID() string {
	return "group-" + uuid.NewString()
}

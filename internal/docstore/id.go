package docstore

import "github.com/google/uuid"

// timeOrderedIDs issues UUIDv7 comment ids. Their leading bits encode the creation time, so
// ids of comments pushed later compare greater; the thread builder's id tiebreak relies on it.
type timeOrderedIDs struct{}

// NewUUIDProvider returns the IDProvider used by the store service.
func NewUUIDProvider() IDProvider {
	return timeOrderedIDs{}
}

func (timeOrderedIDs) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

package state

// Well-known keys shared by actions and widgets.

// ModalKey holds whether the modal element id is open.
func ModalKey(id string) string { return "modal:" + id }

// VisibilityKey holds whether element id is visible. A missing key means
// visible.
func VisibilityKey(id string) string { return "visible:" + id }

// Visible reports the visibility of element id.
func (s *Store) Visible(id string) bool {
	v, ok := s.Get(VisibilityKey(id))
	if !ok {
		return true
	}
	b, isBool := v.(bool)
	return !isBool || b
}

// ModalOpen reports whether modal id is open.
func (s *Store) ModalOpen(id string) bool {
	v, _ := s.Get(ModalKey(id))
	b, _ := v.(bool)
	return b
}

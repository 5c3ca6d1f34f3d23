package domain

import "strings"

// SanitizeID trims an identifier and maps blank and placeholder values to "".
func SanitizeID(value string) string {
	trimmed := strings.TrimSpace(value)
	switch trimmed {
	case "", "undefined", "null":
		return ""
	}
	return trimmed
}

// Normalize returns a sanitized copy. FamilyID falls back to ParentID.
func (c EnforcementContext) Normalize() EnforcementContext {
	out := EnforcementContext{
		ChildID:  SanitizeID(c.ChildID),
		FamilyID: SanitizeID(c.FamilyID),
		ParentID: SanitizeID(c.ParentID),
	}
	if out.FamilyID == "" {
		out.FamilyID = out.ParentID
	}
	return out
}

// Validate returns ErrInvalidContext unless both ids are present after normalization.
func (c EnforcementContext) Validate() error {
	n := c.Normalize()
	if n.ChildID == "" || n.FamilyID == "" {
		return ErrInvalidContext
	}
	return nil
}

package docstore

import (
	"fmt"
	"strings"
)

// Collection names of the persisted layout.
const (
	UsersCollection          = "users"
	PostsCollection          = "posts"
	BookmarksCollection      = "bookmarks"
	CredentialsCollection    = "credentials"
	PasswordResetsCollection = "passwordResets"
)

// Path addresses a document (even number of segments) or a collection (odd).
type Path struct {
	segments []string
}

// NewPath builds a path from segments. Segments must be non-empty and slash free.
func NewPath(segments ...string) (Path, error) {
	if len(segments) == 0 {
		return Path{}, fmt.Errorf("docstore: empty path")
	}
	for _, s := range segments {
		if s == "" || strings.Contains(s, "/") {
			return Path{}, fmt.Errorf("docstore: invalid path segment %q", s)
		}
	}
	return Path{segments: append([]string(nil), segments...)}, nil
}

// ParsePath parses "users/u1/posts/p1".
func ParsePath(s string) (Path, error) {
	return NewPath(strings.Split(strings.Trim(s, "/"), "/")...)
}

func mustPath(segments ...string) Path {
	p, err := NewPath(segments...)
	if err != nil {
		// ids reach here from request params; callers validate with ValidID first
		panic(err)
	}
	return p
}

func (p Path) String() string { return strings.Join(p.segments, "/") }

func (p Path) Segments() []string { return append([]string(nil), p.segments...) }

// IsDocument reports whether p addresses a document rather than a collection.
func (p Path) IsDocument() bool { return len(p.segments) > 0 && len(p.segments)%2 == 0 }

// ID is the last segment of a document path.
func (p Path) ID() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Kind is the name of the collection that holds the document (or the
// collection itself when p is a collection path).
func (p Path) Kind() string {
	switch {
	case len(p.segments) == 0:
		return ""
	case p.IsDocument():
		return p.segments[len(p.segments)-2]
	default:
		return p.segments[len(p.segments)-1]
	}
}

// Parent returns the collection path containing a document.
func (p Path) Parent() Path {
	if len(p.segments) < 2 {
		return Path{}
	}
	return Path{segments: p.segments[:len(p.segments)-1]}
}

// ValidID reports whether id can be used as a path segment.
func ValidID(id string) bool {
	return id != "" && !strings.Contains(id, "/") && id != "." && id != ".."
}

func Users() Path { return mustPath(UsersCollection) }

func UserPath(userID string) Path { return mustPath(UsersCollection, userID) }

func PostsOf(userID string) Path { return mustPath(UsersCollection, userID, PostsCollection) }

func PostPath(authorID, postID string) Path {
	return mustPath(UsersCollection, authorID, PostsCollection, postID)
}

func BookmarksOf(userID string) Path {
	return mustPath(UsersCollection, userID, BookmarksCollection)
}

func BookmarkPath(userID, postID string) Path {
	return mustPath(UsersCollection, userID, BookmarksCollection, postID)
}

func CredentialPath(email string) Path { return mustPath(CredentialsCollection, email) }

func PasswordResetPath(tokenHash string) Path {
	return mustPath(PasswordResetsCollection, tokenHash)
}

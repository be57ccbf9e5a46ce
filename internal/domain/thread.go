package domain

// Reference types reported by the content API for a post's outbound links.
const (
	RefQuoted    = "quoted"
	RefRepliedTo = "replied_to"
	RefRetweeted = "retweeted"
)

// UnknownUsername is the handle given to posts whose author was not returned
// alongside them.
const UnknownUsername = "unknown"

// Author is a user profile as returned in a post lookup's includes.
type Author struct {
	ID              string         `json:"id"`
	Username        string         `json:"username"`
	Name            string         `json:"name"`
	ProfileImageURL string         `json:"profile_image_url,omitempty"`
	Verified        *bool          `json:"verified,omitempty"`
	PublicMetrics   map[string]int `json:"public_metrics,omitempty"`
}

// Reference is one outbound link of a post (quote, reply or retweet).
type Reference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Post is a single tweet with its author handle denormalized.
type Post struct {
	ID                 string           `json:"id"`
	Text               string           `json:"text"`
	AuthorID           string           `json:"author_id"`
	AuthorUsername     string           `json:"author_username"`
	AuthorName         string           `json:"author_name,omitempty"`
	CreatedAt          string           `json:"created_at,omitempty"`
	PublicMetrics      map[string]int   `json:"public_metrics,omitempty"`
	ContextAnnotations []map[string]any `json:"context_annotations,omitempty"`
	References         []Reference      `json:"referenced_tweets,omitempty"`
	ConversationID     string           `json:"conversation_id,omitempty"`
}

// HasReference reports whether p links to another post with the given type.
func (p Post) HasReference(typ string) bool {
	for _, r := range p.References {
		if r.Type == typ {
			return true
		}
	}
	return false
}

// ThreadSnapshot is the normalized result of one thread extraction. It is
// built once and not mutated afterwards.
//
// ReferencedCount is serialized as "reply_count" for client compatibility,
// but it counts the posts referenced by the root (quoted, replied to), not
// replies to the thread.
type ThreadSnapshot struct {
	ThreadID        string            `json:"thread_id"`
	Posts           []Post            `json:"tweets"`
	MainPost        Post              `json:"main_tweet"`
	ReferencedCount int               `json:"reply_count"`
	Authors         map[string]Author `json:"users"`
	ReferencedPosts map[string]Post   `json:"referenced_tweets"`
	QuotePosts      []Post            `json:"quote_tweets"`
	ReplyChain      []Post            `json:"reply_chain"`
	Replies         []Post            `json:"replies,omitempty"`
	Other           []Post            `json:"other,omitempty"`
}

// AuthorOf returns the author of p, or a placeholder author carrying
// UnknownUsername when the id did not resolve.
func (s *ThreadSnapshot) AuthorOf(p Post) Author {
	if a, ok := s.Authors[p.AuthorID]; ok {
		return a
	}
	return Author{ID: p.AuthorID, Username: UnknownUsername}
}

// Usernames returns the distinct known handles in post order.
func (s *ThreadSnapshot) Usernames() []string {
	seen := make(map[string]struct{}, len(s.Posts))
	out := make([]string, 0, len(s.Posts))
	for _, p := range s.Posts {
		u := p.AuthorUsername
		if u == "" || u == UnknownUsername {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

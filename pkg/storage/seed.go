package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

type sampleComment struct {
	author  string
	content string
	reply   bool // attach to the most recent top-level comment
	age     time.Duration
}

type sampleIdea struct {
	title       string
	description string
	url         string
	age         time.Duration
	votes       int
	comments    []sampleComment
}

var sampleIdeas = []sampleIdea{
	{
		title:       "AI Daily Standup Summarizer",
		description: "Bot that auto-joins standups, transcribes, and posts bullet summaries to Slack with action items.",
		url:         "https://example.com/standup-summarizer",
		age:         51 * time.Hour,
		votes:       12,
		comments: []sampleComment{
			{author: "Maya", content: "We tried something similar in-house, the transcription quality makes or breaks it.", age: 40 * time.Hour},
			{author: "Tom", content: "Same experience here. Speaker separation got us most of the way.", reply: true, age: 30 * time.Hour},
			{content: "Would pay for this tomorrow if it hooks into our standup bot.", age: 18 * time.Hour},
		},
	},
	{
		title:       "Vibe UI Presets",
		description: "One-click Tailwind themes (gradients, glass, morph) for rapid prototyping. Copy/paste components.",
		url:         "https://example.com/vibe-ui",
		age:         29 * time.Hour,
		votes:       20,
		comments: []sampleComment{
			{author: "Lena", content: "The glass presets alone would save me hours every sprint.", age: 26 * time.Hour},
			{content: "Please ship dark-mode variants from day one.", age: 24 * time.Hour},
			{author: "Igor", content: "Do the presets track upstream Tailwind releases?", age: 20 * time.Hour},
			{author: "Priya", content: "Copy/paste components are underrated, great scope.", age: 9 * time.Hour},
			{content: "Bookmarked. The morph transitions demo sold me.", age: 5 * time.Hour},
		},
	},
	{
		title:       "Prompt-to-Plugin",
		description: "Describe a plugin in plain English, get a working scaffold with frontend and backend wired up in minutes.",
		age:         144 * time.Hour,
		votes:       8,
		comments: []sampleComment{
			{author: "Sam", content: "Scaffolding is the easy part, curious how it handles auth.", age: 100 * time.Hour},
		},
	},
	{
		title:       "Open Source Roadmap Radar",
		description: "Track trending OSS issues/PRs, cluster by topic, and suggest good-first-issues personalized to you.",
		url:         "https://example.com/oss-radar",
		age:         78 * time.Hour,
		votes:       15,
		comments: []sampleComment{
			{content: "Clustering by topic would finally make good-first-issue hunting bearable.", age: 70 * time.Hour},
			{author: "Ana", content: "Does it watch forks too, or just upstream repos?", age: 50 * time.Hour},
			{author: "Chris", content: "I'd want weekly digests rather than a dashboard.", age: 33 * time.Hour},
			{content: "Pair this with release-notes summaries and it's a winner.", age: 20 * time.Hour},
		},
	},
}

// SeedIfEmpty populates the sample dataset when the post collection is empty.
// It reports whether seeding ran. Intended for best-effort startup seeding:
// callers log failures instead of aborting.
func SeedIfEmpty(ctx context.Context, db Storage) (bool, error) {
	st, err := db.Stats(ctx)
	if err != nil {
		return false, err
	}
	if st.Posts > 0 {
		return false, nil
	}

	return true, populate(ctx, db)
}

// Reseed deletes every document in all collections and repopulates the
// sample dataset. Destructive; the API exposes it behind an operator token.
func Reseed(ctx context.Context, db Storage) error {
	if err := db.Reset(ctx); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	return populate(ctx, db)
}

// populate writes the sample dataset through the regular storage operations:
// votes go through ToggleVote and comments through AddComment, so the
// denormalized counters match ledger and collection cardinality exactly.
// Synthetic voter identities come from the 203.0.113.0/24 documentation range.
func populate(ctx context.Context, db Storage) error {
	now := time.Now().UTC()

	for _, idea := range sampleIdeas {
		post, err := db.AddPost(ctx, Post{
			Title:       idea.title,
			Description: idea.description,
			URL:         idea.url,
			CreatedAt:   now.Add(-idea.age),
			UpdatedAt:   now.Add(-idea.age),
		})
		if err != nil {
			return fmt.Errorf("seed post %q: %w", idea.title, err)
		}

		for v := 0; v < idea.votes; v++ {
			identity := fmt.Sprintf("203.0.113.%d", v+1)
			if _, err := db.ToggleVote(ctx, post.ID, identity); err != nil {
				return fmt.Errorf("seed votes for %q: %w", idea.title, err)
			}
		}

		var lastRoot uuid.UUID
		for _, sc := range idea.comments {
			comment := Comment{
				PostID:    post.ID,
				Author:    sc.author,
				Content:   sc.content,
				CreatedAt: now.Add(-sc.age),
			}
			if sc.reply {
				parentID := lastRoot
				comment.ParentID = &parentID
			}

			created, err := db.AddComment(ctx, comment)
			if err != nil {
				return fmt.Errorf("seed comments for %q: %w", idea.title, err)
			}
			if !sc.reply {
				lastRoot = created.ID
			}
		}
	}

	return nil
}

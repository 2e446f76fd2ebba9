package session

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/ledger"
	"github.com/victornm/discernment/internal/store"
	"github.com/victornm/discernment/internal/telemetry"
)

type AnswerRequest struct {
	Key    domain.SessionKey
	Choice int
	// Cursor pins the question the answer was given for. A pinned cursor other
	// than the current one is a stale delivery.
	Cursor *int
}

// Outcome describes a scored answer.
type Outcome struct {
	Step

	Answered domain.Task
	Correct  bool
	XP       int
	NewBadge bool
	// Summary is set when the answer finished the run.
	Summary *domain.Summary
}

// Answer scores the choice for the current question and advances the cursor.
// Progress, XP, badge, level completion and the new cursor commit together.
func (s *Service) Answer(ctx context.Context, req AnswerRequest) (*Outcome, error) {
	unlock := s.locks.lock(req.Key)
	defer unlock()

	st, err := s.load(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	if st == nil || st.Status == domain.StatusIdle {
		return nil, errors.NoSession()
	}
	if st.Status == domain.StatusFinished {
		return nil, errors.AlreadyFinished()
	}
	if req.Cursor != nil && *req.Cursor != st.Cursor {
		return nil, errors.DuplicateAnswer(*req.Cursor)
	}

	p, err := s.pools.Pool(req.Key.Bot, st.Tier)
	if err != nil {
		return nil, err
	}
	if st.Cursor >= p.Len() {
		return nil, errors.AlreadyFinished()
	}

	ok, err := s.dedup.TryAccept(ctx, req.Key, st.RunID, st.Cursor)
	if err != nil {
		return nil, errors.StorageUnavailable(err)
	}
	if !ok {
		return nil, errors.DuplicateAnswer(st.Cursor)
	}

	out, credits, first, err := s.score(ctx, *st, p, req.Choice)
	if err != nil {
		if rerr := s.dedup.Release(ctx, req.Key, st.RunID, st.Cursor); rerr != nil {
			slog.ErrorContext(ctx, "session: release dedup mark failed", "session", req.Key, "cursor", st.Cursor, "error", rerr)
		}
		return nil, err
	}
	s.cache(ctx, out.State)

	if out.Summary != nil {
		if err := s.dedup.Forget(ctx, req.Key, st.RunID); err != nil {
			slog.ErrorContext(ctx, "session: forget dedup marks failed", "session", req.Key, "error", err)
		}
	}

	s.announce(ctx, out, credits, first)
	return out, nil
}

func (s *Service) score(ctx context.Context, st domain.SessionState, p *domain.Pool, choice int) (*Outcome, []ledger.Credit, bool, error) {
	task := p.Tasks[st.Cursor]

	next := *clone(st)
	out := &Outcome{Answered: task, Correct: task.IsCorrect(choice)}
	if out.Correct {
		next.Score++
		out.XP = task.XP
	} else {
		next.Mistakes = append(next.Mistakes, domain.Normalize(task.Answer))
	}
	next.Cursor++

	finished := next.Cursor == p.Len()
	if finished {
		next.Status = domain.StatusFinished
	}

	var (
		credits []ledger.Credit
		first   bool
	)
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		if err := tx.EnsureUser(ctx, st.UserRef); err != nil {
			return err
		}

		if out.Correct {
			entry := domain.ProgressEntry{TaskID: domain.ProgressID(st.Tier, task.ID), XP: task.XP, Badge: task.Badge}
			if err := tx.RecordProgress(ctx, st.UserRef, entry); err != nil {
				return err
			}

			c := ledger.Credit{UserRef: st.UserRef, Amount: task.XP, Reason: "task"}
			if _, err := s.ledger.CreditTx(ctx, tx, c); err != nil {
				return err
			}
			credits = append(credits, c)

			if task.Badge != "" {
				if out.NewBadge, err = s.ledger.AwardBadgeTx(ctx, tx, st.UserRef, task.Badge); err != nil {
					return err
				}
			}
		}

		if finished {
			if first, err = s.level.CompleteOnceTx(ctx, tx, st.UserRef, p.Tier, s.reward); err != nil {
				return err
			}
		}

		next.Updated = tx.Now()
		return tx.SaveSession(ctx, next)
	})
	if err != nil {
		return nil, nil, false, err
	}

	out.Step = *step(next, p)
	if finished {
		out.Summary = &domain.Summary{
			Tier:       p.Tier,
			Score:      next.Score,
			Total:      p.Len(),
			Accuracy:   domain.Accuracy(next.Score, p.Len()),
			Mistakes:   next.Mistakes,
			FirstClear: first,
		}
		if first {
			out.Summary.LevelReward = s.reward
		}
	}

	return out, credits, first, nil
}

func (s *Service) announce(ctx context.Context, out *Outcome, credits []ledger.Credit, first bool) {
	st := out.State

	result := "incorrect"
	if out.Correct {
		result = "correct"
	}
	telemetry.Answers.WithLabelValues(st.Tier, result).Inc()

	s.eb.Publish(ctx, domain.EventAnswerScored{
		Key:     st.Key,
		UserRef: st.UserRef,
		Tier:    st.Tier,
		TaskID:  out.Answered.ID,
		Correct: out.Correct,
	})
	s.ledger.Announce(ctx, credits...)

	if first {
		s.level.Announce(ctx, st.UserRef, st.Tier, s.reward)
	}

	if out.Summary != nil {
		slog.InfoContext(ctx, "session: finished",
			"session", st.Key,
			"tier", st.Tier,
			"score", strconv.Itoa(out.Summary.Score)+"/"+strconv.Itoa(out.Summary.Total),
			"first_clear", first,
		)
	}
}

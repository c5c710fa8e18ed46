package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/campuslance/platform/internal/app/domain/bid"
	"github.com/campuslance/platform/internal/app/domain/payment"
	"github.com/campuslance/platform/internal/app/domain/task"
	"github.com/campuslance/platform/internal/app/domain/user"
	"github.com/campuslance/platform/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.BidStore = (*Store)(nil)
var _ storage.PaymentStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func notFound(what, id string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, storage.ErrNotFound)
	}
	return err
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	skillsJSON, err := json.Marshal(u.Skills)
	if err != nil {
		return user.User{}, err
	}
	scoresJSON, err := json.Marshal(u.FeedbackScores)
	if err != nil {
		return user.User{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cl_users (id, name, email, role, wallet, company, location, domain, skills,
			tasks_completed, total_score, total_score_count, feedback_scores, notify_token,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, u.ID, u.Name, u.Email, string(u.Role), u.Wallet, u.Company, u.Location, u.Domain, skillsJSON,
		u.TasksCompleted, u.TotalScore, u.TotalScoreCount, scoresJSON, u.NotifyToken,
		u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}

	u.CreatedAt = existing.CreatedAt
	// Wallet is only mutated through ApplyWalletCredit.
	u.Wallet = existing.Wallet
	u.UpdatedAt = time.Now().UTC()

	skillsJSON, err := json.Marshal(u.Skills)
	if err != nil {
		return user.User{}, err
	}
	scoresJSON, err := json.Marshal(u.FeedbackScores)
	if err != nil {
		return user.User{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE cl_users
		SET name = $2, email = $3, role = $4, company = $5, location = $6, domain = $7,
			skills = $8, tasks_completed = $9, total_score = $10, total_score_count = $11,
			feedback_scores = $12, notify_token = $13, updated_at = $14
		WHERE id = $1
	`, u.ID, u.Name, u.Email, string(u.Role), u.Company, u.Location, u.Domain,
		skillsJSON, u.TasksCompleted, u.TotalScore, u.TotalScoreCount,
		scoresJSON, u.NotifyToken, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, wallet, company, location, domain, skills,
			tasks_completed, total_score, total_score_count, feedback_scores, notify_token,
			created_at, updated_at
		FROM cl_users
		WHERE id = $1
	`, id)
	return scanUser(row, id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner, id string) (user.User, error) {
	var (
		u          user.User
		role       string
		skillsRaw  []byte
		scoresRaw  []byte
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.Wallet, &u.Company, &u.Location,
		&u.Domain, &skillsRaw, &u.TasksCompleted, &u.TotalScore, &u.TotalScoreCount,
		&scoresRaw, &u.NotifyToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return user.User{}, notFound("user", id, err)
	}
	u.Role = user.Role(role)
	if len(skillsRaw) > 0 {
		_ = json.Unmarshal(skillsRaw, &u.Skills)
	}
	if len(scoresRaw) > 0 {
		_ = json.Unmarshal(scoresRaw, &u.FeedbackScores)
	}
	return u, nil
}

// --- TaskStore --------------------------------------------------------------

const taskColumns = `id, client_id, title, description, budget, deadline, location, domain,
	company, required_skills, status, assigned_student, submission, rating, feedback, score,
	created_at, updated_at`

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
	if t.ClientID == "" {
		return task.Task{}, errors.New("client_id required")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	skillsJSON, err := json.Marshal(t.RequiredSkills)
	if err != nil {
		return task.Task{}, err
	}
	submissionJSON, err := marshalSubmission(t.Submission)
	if err != nil {
		return task.Task{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cl_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, t.ID, t.ClientID, t.Title, t.Description, t.Budget, t.Deadline, t.Location, t.Domain,
		t.Company, skillsJSON, string(t.Status), t.AssignedStudent, submissionJSON,
		t.Rating, t.Feedback, t.Score, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t task.Task) (task.Task, error) {
	existing, err := s.GetTask(ctx, t.ID)
	if err != nil {
		return task.Task{}, err
	}

	t.ClientID = existing.ClientID
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	skillsJSON, err := json.Marshal(t.RequiredSkills)
	if err != nil {
		return task.Task{}, err
	}
	submissionJSON, err := marshalSubmission(t.Submission)
	if err != nil {
		return task.Task{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE cl_tasks
		SET title = $2, description = $3, budget = $4, deadline = $5, location = $6,
			domain = $7, company = $8, required_skills = $9, status = $10,
			assigned_student = $11, submission = $12, rating = $13, feedback = $14,
			score = $15, updated_at = $16
		WHERE id = $1
	`, t.ID, t.Title, t.Description, t.Budget, t.Deadline, t.Location, t.Domain, t.Company,
		skillsJSON, string(t.Status), t.AssignedStudent, submissionJSON, t.Rating,
		t.Feedback, t.Score, t.UpdatedAt)
	if err != nil {
		return task.Task{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return task.Task{}, fmt.Errorf("task %s: %w", t.ID, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM cl_tasks WHERE id = $1
	`, id)
	return scanTask(row, id)
}

func scanTask(row rowScanner, id string) (task.Task, error) {
	var (
		t             task.Task
		status        string
		skillsRaw     []byte
		submissionRaw []byte
	)
	err := row.Scan(&t.ID, &t.ClientID, &t.Title, &t.Description, &t.Budget, &t.Deadline,
		&t.Location, &t.Domain, &t.Company, &skillsRaw, &status, &t.AssignedStudent,
		&submissionRaw, &t.Rating, &t.Feedback, &t.Score, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return task.Task{}, notFound("task", id, err)
	}
	t.Status = task.Status(status)
	if len(skillsRaw) > 0 {
		_ = json.Unmarshal(skillsRaw, &t.RequiredSkills)
	}
	if len(submissionRaw) > 0 {
		var sub task.Submission
		if err := json.Unmarshal(submissionRaw, &sub); err == nil && sub.FileURL != "" {
			t.Submission = &sub
		}
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]task.Task, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.ClientID != "" {
		where = append(where, "client_id = "+arg(filter.ClientID))
	}
	if filter.Location != "" {
		where = append(where, "lower(location) = lower("+arg(filter.Location)+")")
	}
	if filter.Domain != "" {
		where = append(where, "lower(domain) = lower("+arg(filter.Domain)+")")
	}
	if filter.Company != "" {
		where = append(where, "lower(company) = lower("+arg(filter.Company)+")")
	}
	if len(filter.SkillsAny) > 0 {
		// Tasks with no required skills match everyone.
		where = append(where, "(required_skills = '[]'::jsonb OR required_skills ?| "+arg(pq.Array(filter.SkillsAny))+")")
	}

	query := "SELECT " + taskColumns + " FROM cl_tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.NewestFirst {
		query += " ORDER BY created_at DESC"
	} else {
		query += " ORDER BY created_at"
	}
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []task.Task
	for rows.Next() {
		t, err := scanTask(rows, "")
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Store) AssignTask(ctx context.Context, id, studentID string) (task.Task, bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cl_tasks
		SET status = $2, assigned_student = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, id, string(task.StatusAssigned), studentID, time.Now().UTC(), string(task.StatusOpen))
	if err != nil {
		return task.Task{}, false, err
	}
	rows, _ := result.RowsAffected()

	t, err := s.GetTask(ctx, id)
	if err != nil {
		return task.Task{}, false, err
	}
	return t, rows > 0, nil
}

func marshalSubmission(sub *task.Submission) ([]byte, error) {
	if sub == nil {
		return nil, nil
	}
	return json.Marshal(sub)
}

// --- BidStore ---------------------------------------------------------------

const bidColumns = `id, task_id, student_id, quote, timeline, message, status, created_at, updated_at`

func (s *Store) CreateBid(ctx context.Context, b bid.Bid) (bid.Bid, error) {
	if b.TaskID == "" || b.StudentID == "" {
		return bid.Bid{}, errors.New("task_id and student_id required")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cl_bids (`+bidColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.TaskID, b.StudentID, b.Quote, b.Timeline, b.Message, string(b.Status),
		b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return bid.Bid{}, err
	}
	return b, nil
}

func (s *Store) UpdateBid(ctx context.Context, b bid.Bid) (bid.Bid, error) {
	existing, err := s.GetBid(ctx, b.ID)
	if err != nil {
		return bid.Bid{}, err
	}

	b.TaskID = existing.TaskID
	b.StudentID = existing.StudentID
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE cl_bids
		SET quote = $2, timeline = $3, message = $4, status = $5, updated_at = $6
		WHERE id = $1
	`, b.ID, b.Quote, b.Timeline, b.Message, string(b.Status), b.UpdatedAt)
	if err != nil {
		return bid.Bid{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return bid.Bid{}, fmt.Errorf("bid %s: %w", b.ID, storage.ErrNotFound)
	}
	return b, nil
}

func (s *Store) GetBid(ctx context.Context, id string) (bid.Bid, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+bidColumns+` FROM cl_bids WHERE id = $1
	`, id)
	return scanBid(row, id)
}

func scanBid(row rowScanner, id string) (bid.Bid, error) {
	var (
		b      bid.Bid
		status string
	)
	err := row.Scan(&b.ID, &b.TaskID, &b.StudentID, &b.Quote, &b.Timeline, &b.Message,
		&status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return bid.Bid{}, notFound("bid", id, err)
	}
	b.Status = bid.Status(status)
	return b, nil
}

func (s *Store) ListBidsByTask(ctx context.Context, taskID string) ([]bid.Bid, error) {
	return s.listBids(ctx, `
		SELECT `+bidColumns+` FROM cl_bids WHERE task_id = $1 ORDER BY created_at DESC
	`, taskID)
}

func (s *Store) ListBidsByStudent(ctx context.Context, studentID string, status bid.Status) ([]bid.Bid, error) {
	if status == "" {
		return s.listBids(ctx, `
			SELECT `+bidColumns+` FROM cl_bids WHERE student_id = $1 ORDER BY created_at DESC
		`, studentID)
	}
	return s.listBids(ctx, `
		SELECT `+bidColumns+` FROM cl_bids WHERE student_id = $1 AND status = $2 ORDER BY created_at DESC
	`, studentID, string(status))
}

func (s *Store) listBids(ctx context.Context, query string, args ...interface{}) ([]bid.Bid, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []bid.Bid
	for rows.Next() {
		b, err := scanBid(rows, "")
		if err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

func (s *Store) CountBidsByTasks(ctx context.Context, taskIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(taskIDs))
	if len(taskIDs) == 0 {
		return counts, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, COUNT(*) FROM cl_bids WHERE task_id = ANY($1) GROUP BY task_id
	`, pq.Array(taskIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			taskID string
			count  int
		)
		if err := rows.Scan(&taskID, &count); err != nil {
			return nil, err
		}
		counts[taskID] = count
	}
	return counts, rows.Err()
}

// --- PaymentStore -----------------------------------------------------------

const paymentColumns = `id, task_id, bid_id, client_id, student_id, amount, currency,
	platform_fee_client, platform_fee_student, net_to_student, status,
	gateway_order_ref, gateway_payment_ref, decline_reason, admin_note,
	created_at, updated_at`

func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	if p.TaskID == "" || p.BidID == "" {
		return payment.Payment{}, errors.New("task_id and bid_id required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cl_payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, p.ID, p.TaskID, p.BidID, p.ClientID, p.StudentID, p.Amount, p.Currency,
		p.PlatformFeeClient, p.PlatformFeeStudent, p.NetToStudent, string(p.Status),
		p.GatewayOrderRef, p.GatewayPaymentRef, p.DeclineReason, p.AdminNote,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	existing, err := s.GetPayment(ctx, p.ID)
	if err != nil {
		return payment.Payment{}, err
	}

	p.TaskID = existing.TaskID
	p.BidID = existing.BidID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE cl_payments
		SET status = $2, gateway_order_ref = $3, gateway_payment_ref = $4,
			decline_reason = $5, admin_note = $6, updated_at = $7
		WHERE id = $1
	`, p.ID, string(p.Status), p.GatewayOrderRef, p.GatewayPaymentRef,
		p.DeclineReason, p.AdminNote, p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", p.ID, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM cl_payments WHERE id = $1
	`, id)
	return scanPayment(row, id)
}

func (s *Store) GetPaymentByOrderRef(ctx context.Context, orderRef string) (payment.Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM cl_payments WHERE gateway_order_ref = $1
	`, orderRef)
	return scanPayment(row, orderRef)
}

func scanPayment(row rowScanner, id string) (payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := row.Scan(&p.ID, &p.TaskID, &p.BidID, &p.ClientID, &p.StudentID, &p.Amount,
		&p.Currency, &p.PlatformFeeClient, &p.PlatformFeeStudent, &p.NetToStudent,
		&status, &p.GatewayOrderRef, &p.GatewayPaymentRef, &p.DeclineReason,
		&p.AdminNote, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, notFound("payment", id, err)
	}
	p.Status = payment.Status(status)
	return p, nil
}

func (s *Store) ListPaymentsByTask(ctx context.Context, taskID string) ([]payment.Payment, error) {
	return s.listPayments(ctx, `
		SELECT `+paymentColumns+` FROM cl_payments WHERE task_id = $1 ORDER BY created_at DESC
	`, taskID)
}

func (s *Store) ListPaymentsByStatus(ctx context.Context, status payment.Status, updatedBefore time.Time) ([]payment.Payment, error) {
	if updatedBefore.IsZero() {
		return s.listPayments(ctx, `
			SELECT `+paymentColumns+` FROM cl_payments WHERE status = $1 ORDER BY updated_at
		`, string(status))
	}
	return s.listPayments(ctx, `
		SELECT `+paymentColumns+` FROM cl_payments
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
	`, string(status), updatedBefore)
}

func (s *Store) listPayments(ctx context.Context, query string, args ...interface{}) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows, "")
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM cl_payments WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("payment %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) TransitionPaymentStatus(ctx context.Context, id string, from []payment.Status, to payment.Status) (payment.Payment, bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE cl_payments
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
	`, id, string(to), time.Now().UTC(), pq.Array(states))
	if err != nil {
		return payment.Payment{}, false, err
	}
	rows, _ := result.RowsAffected()

	p, err := s.GetPayment(ctx, id)
	if err != nil {
		return payment.Payment{}, false, err
	}
	return p, rows > 0, nil
}

// --- WalletStore ------------------------------------------------------------

func (s *Store) ApplyWalletCredit(ctx context.Context, studentID string, amount float64, idempotencyKey string) (float64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO cl_wallet_credits (idempotency_key, student_id, amount, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, idempotencyKey, studentID, amount, time.Now().UTC())
	if err != nil {
		return 0, false, err
	}
	applied, _ := result.RowsAffected()

	var balance float64
	if applied > 0 {
		err = tx.QueryRowContext(ctx, `
			UPDATE cl_users SET wallet = wallet + $2, updated_at = $3
			WHERE id = $1
			RETURNING wallet
		`, studentID, amount, time.Now().UTC()).Scan(&balance)
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT wallet FROM cl_users WHERE id = $1
		`, studentID).Scan(&balance)
	}
	if err != nil {
		return 0, false, notFound("user", studentID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return balance, applied > 0, nil
}

func (s *Store) WalletBalance(ctx context.Context, studentID string) (float64, error) {
	var balance float64
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet FROM cl_users WHERE id = $1
	`, studentID).Scan(&balance)
	if err != nil {
		return 0, notFound("user", studentID, err)
	}
	return balance, nil
}

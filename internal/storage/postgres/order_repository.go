package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const opTimeout = 5 * time.Second

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = r.createTx(ctx, tx, order); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create order: %w", err)
	}

	return nil
}

func (r *orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		order  domain.Order
		status string
		method string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, dni, address, payment_method, status, total, created_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.Buyer.FirstName, &order.Buyer.LastName, &order.Buyer.DNI,
		&order.Buyer.Address, &method, &status, &order.Total, &order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = domain.PaymentMethod(method)
	order.CreatedAt = order.CreatedAt.UTC()

	lines, err := r.loadLines(ctx, r.db, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines

	return order, nil
}

func (r *orderRepository) List(ctx context.Context, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, first_name, last_name, dni, address, payment_method, status, total, created_at
		FROM orders
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $1", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order  domain.Order
			status string
			method string
		)
		if err := rows.Scan(
			&order.ID, &order.Buyer.FirstName, &order.Buyer.LastName, &order.Buyer.DNI,
			&order.Buyer.Address, &method, &status, &order.Total, &order.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		order.Status = domain.OrderStatus(status)
		order.PaymentMethod = domain.PaymentMethod(method)
		order.CreatedAt = order.CreatedAt.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		lines, err := r.loadLines(ctx, r.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}

	return orders, nil
}

func (r *orderRepository) Confirm(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	order, err := r.confirmTx(ctx, tx, id)
	if err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit confirm order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) Cancel(ctx context.Context, id int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	order, err := r.lockOrder(ctx, tx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		err = domain.ErrOrderNotDraft
		return domain.Order{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE orders SET status = $2 WHERE id = $1
	`, id, string(domain.OrderStatusCancelled)); err != nil {
		return domain.Order{}, fmt.Errorf("cancel order: %w", err)
	}
	order.Status = domain.OrderStatusCancelled

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit cancel order: %w", err)
	}

	return order, nil
}

// Place создаёт и подтверждает заказ в одной транзакции. При нехватке стока
// транзакция откатывается целиком: ни заказа, ни позиций, ни списаний.
func (r *orderRepository) Place(ctx context.Context, order *domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			order.ID = 0
		}
	}()

	if err = r.createTx(ctx, tx, order); err != nil {
		return domain.Order{}, err
	}

	confirmed, err := r.confirmTx(ctx, tx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit place order: %w", err)
	}

	*order = confirmed
	return confirmed, nil
}

// createTx вставляет заказ с позициями. Позиции с нулевой ценой получают
// snapshot текущей цены товара на момент вставки.
func (r *orderRepository) createTx(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	if order.Status == "" {
		order.Status = domain.OrderStatusDraft
	}
	if errs := order.Validate(); len(errs) > 0 {
		return errs[0]
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO orders (first_name, last_name, dni, address, payment_method, status, total)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id, created_at
	`,
		order.Buyer.FirstName, order.Buyer.LastName, order.Buyer.DNI, order.Buyer.Address,
		string(order.PaymentMethod), string(order.Status), order.Total,
	).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	order.CreatedAt = order.CreatedAt.UTC()

	for i := range order.Lines {
		line := &order.Lines[i]
		line.OrderID = order.ID

		if line.Price.IsZero() {
			if err := tx.QueryRowContext(ctx, `
				SELECT price FROM products WHERE id = $1
			`, line.ProductID).Scan(&line.Price); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return domain.ErrProductNotFound
				}
				return fmt.Errorf("snapshot line price: %w", err)
			}
		}

		if err := tx.QueryRowContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, quantity, price)
			VALUES ($1,$2,$3,$4)
			RETURNING id
		`, line.OrderID, line.ProductID, line.Quantity, line.Price).Scan(&line.ID); err != nil {
			if isForeignKeyViolation(err) {
				return domain.ErrProductNotFound
			}
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	return nil
}

// confirmTx резервирует сток по всем позициям черновика внутри транзакции.
//
// Строки товаров блокируются по возрастанию id, чтобы конкурирующие
// подтверждения не взаимоблокировались. Нехватки собираются по всем позициям
// сразу и возвращаются одним *StockShortageError; транзакцию при этом
// откатывает вызывающая сторона.
func (r *orderRepository) confirmTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Order, error) {
	order, err := r.lockOrder(ctx, tx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusConfirmed) {
		return domain.Order{}, domain.ErrOrderNotDraft
	}

	lines, err := r.loadLines(ctx, tx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if len(lines) == 0 {
		return domain.Order{}, domain.ErrOrderLinesRequired
	}
	order.Lines = lines

	// Суммарное требование по каждому товару: позиции могут повторять товар.
	required := make(map[int64]int, len(lines))
	for i := range lines {
		required[lines[i].ProductID] += lines[i].Quantity
	}
	productIDs := make([]int64, 0, len(required))
	for pid := range required {
		productIDs = append(productIDs, pid)
	}
	sort.Slice(productIDs, func(i, j int) bool { return productIDs[i] < productIDs[j] })

	var shortages []domain.Shortage
	for _, pid := range productIDs {
		var (
			name  string
			stock int
		)
		if err := tx.QueryRowContext(ctx, `
			SELECT name, stock FROM products WHERE id = $1 FOR UPDATE
		`, pid).Scan(&name, &stock); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.Order{}, domain.ErrProductNotFound
			}
			return domain.Order{}, fmt.Errorf("lock product %d: %w", pid, err)
		}

		need := required[pid]
		if stock < need {
			shortages = append(shortages, domain.Shortage{
				ProductID: pid,
				Name:      name,
				Requested: need,
				Available: stock,
			})
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock - $2 WHERE id = $1
		`, pid, need); err != nil {
			return domain.Order{}, fmt.Errorf("reserve stock for product %d: %w", pid, err)
		}
	}

	if len(shortages) > 0 {
		return domain.Order{}, &domain.StockShortageError{Shortages: shortages}
	}

	order.Status = domain.OrderStatusConfirmed
	order.Total = order.CalcTotal()

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, total = $3 WHERE id = $1
	`, id, string(order.Status), order.Total); err != nil {
		return domain.Order{}, fmt.Errorf("confirm order: %w", err)
	}

	return order, nil
}

func (r *orderRepository) lockOrder(ctx context.Context, tx *sql.Tx, id int64) (domain.Order, error) {
	var (
		order  domain.Order
		status string
		method string
	)

	err := tx.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, dni, address, payment_method, status, total, created_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(
		&order.ID, &order.Buyer.FirstName, &order.Buyer.LastName, &order.Buyer.DNI,
		&order.Buyer.Address, &method, &status, &order.Total, &order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("lock order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentMethod = domain.PaymentMethod(method)
	order.CreatedAt = order.CreatedAt.UTC()

	return order, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *orderRepository) loadLines(ctx context.Context, q queryer, orderID int64) ([]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, price
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ID, &line.OrderID, &line.ProductID, &line.Quantity, &line.Price); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return lines, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)

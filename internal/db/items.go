package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Joseda-hg/taskwatch/internal/model"
)

var ErrNotFound = errors.New("item not found")

// Embedder turns text into vectors for similarity search.
type Embedder interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Metadata map[string]string

type Item struct {
	ID             string
	Table          string
	Text           string
	SourceDocument string
	Metadata       Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type SearchMatch struct {
	Item               Item
	TextSimilarity     float64
	LexicalSimilarity  float64
	ContextSimilarity  float64
	CombinedSimilarity float64
}

// ItemStore is a vector-indexed item store partitioned by table name. Each item
// keeps a normalised embedding of its text and, when present, of its source
// document. Search is brute force over the table, which is exact and fast for
// the few thousand rows a todo list accumulates.
type ItemStore struct {
	DB       *sql.DB
	embedder Embedder
	now      func() time.Time
}

func NewItemStore(db *sql.DB, embedder Embedder) *ItemStore {
	return &ItemStore{DB: db, embedder: embedder, now: time.Now}
}

func (s *ItemStore) InsertItem(ctx context.Context, table, text, sourceDocument string, metadata Metadata) (Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, fmt.Errorf("insert into %s: text is required", table)
	}

	textVec, docVec, err := s.embedPair(ctx, text, sourceDocument)
	if err != nil {
		return Item{}, fmt.Errorf("insert into %s: %w", table, err)
	}

	payload, err := encodeMetadata(metadata)
	if err != nil {
		return Item{}, err
	}

	id := uuid.NewString()
	now := s.now().UTC()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO items (id, table_name, text, source_document, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, table, text, sourceDocument, payload, now, now); err != nil {
		return Item{}, fmt.Errorf("insert into %s: %w", table, err)
	}

	if err := upsertVectors(ctx, tx, id, textVec, docVec); err != nil {
		return Item{}, err
	}

	if err := addHistory(ctx, tx, id, table, "created", formatCreatedDetails(text, metadata), now); err != nil {
		return Item{}, err
	}

	if err := tx.Commit(); err != nil {
		return Item{}, err
	}

	return s.GetItem(ctx, table, id)
}

func (s *ItemStore) UpdateText(ctx context.Context, table, id, text string, metadata Metadata) (Item, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Item{}, fmt.Errorf("update %s/%s: text is required", table, id)
	}

	before, err := s.GetItem(ctx, table, id)
	if err != nil {
		return Item{}, err
	}

	textVec, docVec, err := s.embedPair(ctx, text, before.SourceDocument)
	if err != nil {
		return Item{}, fmt.Errorf("update %s/%s: %w", table, id, err)
	}

	payload, err := encodeMetadata(metadata)
	if err != nil {
		return Item{}, err
	}

	now := s.now().UTC()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE items SET text = ?, metadata_json = ?, updated_at = ?
		WHERE id = ? AND table_name = ?
	`, text, payload, now, id, table); err != nil {
		return Item{}, fmt.Errorf("update %s/%s: %w", table, id, err)
	}

	if err := upsertVectors(ctx, tx, id, textVec, docVec); err != nil {
		return Item{}, err
	}

	details := formatItemDiff(before, Item{Text: text, Metadata: metadata})
	if err := addHistory(ctx, tx, id, table, "updated", details, now); err != nil {
		return Item{}, err
	}

	if err := tx.Commit(); err != nil {
		return Item{}, err
	}

	return s.GetItem(ctx, table, id)
}

func (s *ItemStore) UpdateMetadata(ctx context.Context, table, id string, metadata Metadata) (Item, error) {
	before, err := s.GetItem(ctx, table, id)
	if err != nil {
		return Item{}, err
	}

	payload, err := encodeMetadata(metadata)
	if err != nil {
		return Item{}, err
	}

	now := s.now().UTC()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Item{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE items SET metadata_json = ?, updated_at = ?
		WHERE id = ? AND table_name = ?
	`, payload, now, id, table); err != nil {
		return Item{}, fmt.Errorf("update metadata %s/%s: %w", table, id, err)
	}

	eventType := "updated"
	if before.Metadata["status"] != metadata["status"] {
		eventType = "status"
	}
	details := formatItemDiff(before, Item{Text: before.Text, Metadata: metadata})
	if err := addHistory(ctx, tx, id, table, eventType, details, now); err != nil {
		return Item{}, err
	}

	if err := tx.Commit(); err != nil {
		return Item{}, err
	}

	return s.GetItem(ctx, table, id)
}

func (s *ItemStore) DeleteItem(ctx context.Context, table, id string) error {
	before, err := s.GetItem(ctx, table, id)
	if err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := addHistory(ctx, tx, id, table, "deleted", formatDeletedDetails(before), s.now().UTC()); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM item_vectors WHERE item_id = ?", id); err != nil {
		return fmt.Errorf("delete vectors %s/%s: %w", table, id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM items WHERE id = ? AND table_name = ?", id, table); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}

	return tx.Commit()
}

func (s *ItemStore) GetItem(ctx context.Context, table, id string) (Item, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, table_name, text, source_document, metadata_json, created_at, updated_at
		FROM items WHERE id = ? AND table_name = ?
	`, id, table)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, fmt.Errorf("%s/%s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func (s *ItemStore) GetAllItems(ctx context.Context, table string) ([]Item, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, table_name, text, source_document, metadata_json, created_at, updated_at
		FROM items WHERE table_name = ?
		ORDER BY created_at, rowid
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Search ranks the items of table by combined similarity to text and, when
// given, contextDocument. Results are ordered best first.
func (s *ItemStore) Search(ctx context.Context, table, text, contextDocument string, topK int) ([]SearchMatch, error) {
	if topK <= 0 {
		topK = 10
	}

	queryVec, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryVec = normalize(queryVec)

	var contextVec []float32
	if strings.TrimSpace(contextDocument) != "" {
		contextVec, err = s.embedder.EmbedQuery(ctx, contextDocument)
		if err != nil {
			return nil, fmt.Errorf("embed context: %w", err)
		}
		contextVec = normalize(contextVec)
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT i.id, i.table_name, i.text, i.source_document, i.metadata_json, i.created_at, i.updated_at,
		       v.text_embedding, v.doc_embedding, v.dimensions
		FROM items i
		JOIN item_vectors v ON v.item_id = i.id
		WHERE i.table_name = ?
	`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []SearchMatch
	for rows.Next() {
		var (
			item     Item
			meta     string
			textBlob []byte
			docBlob  []byte
			dims     int
		)
		if err := rows.Scan(&item.ID, &item.Table, &item.Text, &item.SourceDocument, &meta, &item.CreatedAt, &item.UpdatedAt, &textBlob, &docBlob, &dims); err != nil {
			return nil, err
		}
		if item.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, err
		}

		match := SearchMatch{
			Item:              item,
			TextSimilarity:    dotProduct(queryVec, blobToFloat32(textBlob, dims)),
			LexicalSimilarity: lexicalSimilarity(text, item.Text),
		}
		hasContext := contextVec != nil && len(docBlob) > 0
		if hasContext {
			match.ContextSimilarity = dotProduct(contextVec, blobToFloat32(docBlob, dims))
		}
		match.CombinedSimilarity = combineSimilarity(match.TextSimilarity, match.LexicalSimilarity, match.ContextSimilarity, hasContext)
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CombinedSimilarity > matches[j].CombinedSimilarity
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *ItemStore) ListHistory(ctx context.Context, id string) ([]model.HistoryEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, item_id, event_type, details, created_at
		FROM item_history WHERE item_id = ?
		ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []model.HistoryEntry
	for rows.Next() {
		var entry model.HistoryEntry
		if err := rows.Scan(&entry.ID, &entry.ItemID, &entry.EventType, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, entry)
	}
	return history, rows.Err()
}

func (s *ItemStore) embedPair(ctx context.Context, text, sourceDocument string) ([]float32, []float32, error) {
	textVec, err := s.embedder.EmbedDocument(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("embed text: %w", err)
	}
	textVec = normalize(textVec)

	if strings.TrimSpace(sourceDocument) == "" {
		return textVec, nil, nil
	}

	docVec, err := s.embedder.EmbedDocument(ctx, sourceDocument)
	if err != nil {
		return nil, nil, fmt.Errorf("embed source document: %w", err)
	}
	if len(docVec) != len(textVec) {
		return nil, nil, fmt.Errorf("embedding dimensions differ: %d vs %d", len(textVec), len(docVec))
	}
	return textVec, normalize(docVec), nil
}

func upsertVectors(ctx context.Context, tx *sql.Tx, id string, textVec, docVec []float32) error {
	var docBlob []byte
	if docVec != nil {
		docBlob = float32ToBlob(docVec)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO item_vectors (item_id, text_embedding, doc_embedding, dimensions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			text_embedding = excluded.text_embedding,
			doc_embedding = excluded.doc_embedding,
			dimensions = excluded.dimensions
	`, id, float32ToBlob(textVec), docBlob, len(textVec))
	if err != nil {
		return fmt.Errorf("store vectors for %s: %w", id, err)
	}
	return nil
}

func addHistory(ctx context.Context, tx *sql.Tx, id, table, eventType, details string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO item_history (item_id, table_name, event_type, details, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, table, eventType, details, at)
	if err != nil {
		return fmt.Errorf("add history for %s: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		item Item
		meta string
	)
	if err := row.Scan(&item.ID, &item.Table, &item.Text, &item.SourceDocument, &meta, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	metadata, err := decodeMetadata(meta)
	if err != nil {
		return Item{}, err
	}
	item.Metadata = metadata
	return item, nil
}

func encodeMetadata(metadata Metadata) (string, error) {
	if metadata == nil {
		metadata = Metadata{}
	}
	payload, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(payload), nil
}

func decodeMetadata(raw string) (Metadata, error) {
	metadata := Metadata{}
	if strings.TrimSpace(raw) == "" {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}

func formatCreatedDetails(text string, metadata Metadata) string {
	return fmt.Sprintf("created: text='%s' %s", text, formatMetadata(metadata))
}

func formatDeletedDetails(item Item) string {
	return fmt.Sprintf("deleted: text='%s' %s", item.Text, formatMetadata(item.Metadata))
}

func formatItemDiff(before, after Item) string {
	changes := []string{}
	if before.Text != after.Text {
		changes = append(changes, formatChange("text", before.Text, after.Text))
	}
	for _, key := range metadataKeys(before.Metadata, after.Metadata) {
		// lastModified moves on every write and would drown out real changes.
		if key == "lastModified" {
			continue
		}
		if before.Metadata[key] != after.Metadata[key] {
			changes = append(changes, formatChange(key, before.Metadata[key], after.Metadata[key]))
		}
	}

	if len(changes) == 0 {
		return "updated: no changes"
	}
	return "updated: " + strings.Join(changes, "; ")
}

func formatChange(field, before, after string) string {
	return fmt.Sprintf("%s: '%s' -> '%s'", field, valueOrNone(before), valueOrNone(after))
}

func valueOrNone(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "none"
	}
	return trimmed
}

func formatMetadata(metadata Metadata) string {
	keys := metadataKeys(metadata, nil)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, valueOrNone(metadata[key])))
	}
	return strings.Join(parts, " ")
}

func metadataKeys(a, b Metadata) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for key := range a {
		seen[key] = struct{}{}
	}
	for key := range b {
		seen[key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

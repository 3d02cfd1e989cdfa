package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/aquamarinepk/aqm"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/opentaverna/taverna/internal/protocol"
)

// OrderRepo archives order items in MongoDB. The in-memory store is the
// source of truth while the service runs; the archive backs warm-up when
// the event stream is unavailable and keeps history across purges.
type OrderRepo struct {
	client     *mongo.Client
	db         *mongo.Database
	collection *mongo.Collection
	logger     aqm.Logger
	config     *aqm.Config
}

func NewOrderRepo(config *aqm.Config, logger aqm.Logger) *OrderRepo {
	return &OrderRepo{
		logger: logger,
		config: config,
	}
}

func (r *OrderRepo) Start(ctx context.Context) error {
	mongoURL, _ := r.config.GetString("db.mongo.url")
	if mongoURL == "" {
		mongoURL = "mongodb://localhost:27017"
	}

	dbName, _ := r.config.GetString("db.mongo.name")
	if dbName == "" {
		dbName = "taverna_orders"
	}

	clientOptions := options.Client().ApplyURI(mongoURL).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	r.client = client
	r.db = client.Database(dbName)
	r.collection = r.db.Collection("order_items")

	idIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "item_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := r.collection.Indexes().CreateOne(ctx, idIndexModel); err != nil {
		return fmt.Errorf("cannot create item_id index: %w", err)
	}

	tableIndexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "table", Value: 1}},
	}
	if _, err := r.collection.Indexes().CreateOne(ctx, tableIndexModel); err != nil {
		return fmt.Errorf("cannot create table index: %w", err)
	}

	statusIndexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	}
	if _, err := r.collection.Indexes().CreateOne(ctx, statusIndexModel); err != nil {
		return fmt.Errorf("cannot create status index: %w", err)
	}

	r.logger.Infof("Connected to MongoDB: %s, database: %s, collection: order_items", mongoURL, dbName)
	return nil
}

func (r *OrderRepo) GetDatabase() *mongo.Database {
	return r.db
}

func (r *OrderRepo) Stop(ctx context.Context) error {
	if r.client != nil {
		if err := r.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		r.logger.Info("Disconnected from MongoDB")
	}
	return nil
}

// itemDoc is the archive document for one order item. Table metadata is
// denormalized onto each row so a warm-up needs a single collection scan.
type itemDoc struct {
	ItemID    string              `bson:"item_id"`
	Table     int                 `bson:"table"`
	Category  string              `bson:"category"`
	Status    string              `bson:"status"`
	Text      string              `bson:"text"`
	MenuName  string              `bson:"menu_name,omitempty"`
	Qty       *float64            `bson:"qty,omitempty"`
	WeightKg  *float64            `bson:"weight_kg,omitempty"`
	MenuID    string              `bson:"menu_id,omitempty"`
	CreatedAt time.Time           `bson:"created_at"`
	UpdatedAt time.Time           `bson:"updated_at"`
	Meta      *protocol.TableMeta `bson:"meta,omitempty"`
}

func toDoc(item *protocol.OrderItem, meta *protocol.TableMeta) itemDoc {
	return itemDoc{
		ItemID:    item.ID,
		Table:     item.Table,
		Category:  item.Category,
		Status:    item.Status,
		Text:      item.Text,
		MenuName:  item.MenuName,
		Qty:       item.Qty,
		WeightKg:  item.WeightKg,
		MenuID:    item.MenuID,
		CreatedAt: item.CreatedAt,
		UpdatedAt: time.Now(),
		Meta:      meta,
	}
}

func fromDoc(doc itemDoc) protocol.OrderItem {
	return protocol.OrderItem{
		ID:        doc.ItemID,
		Table:     doc.Table,
		Category:  doc.Category,
		Status:    doc.Status,
		Text:      doc.Text,
		MenuName:  doc.MenuName,
		Qty:       doc.Qty,
		WeightKg:  doc.WeightKg,
		MenuID:    doc.MenuID,
		CreatedAt: doc.CreatedAt,
		Meta:      doc.Meta,
	}
}

// Save upserts an item by its id so replays stay idempotent.
func (r *OrderRepo) Save(ctx context.Context, item *protocol.OrderItem, meta *protocol.TableMeta) error {
	doc := toDoc(item, meta)

	filter := bson.M{"item_id": item.ID}
	update := bson.M{"$set": doc}

	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("cannot upsert order item: %w", err)
	}
	return nil
}

// SetTableMeta stamps the denormalized meta on every archived row of a table.
func (r *OrderRepo) SetTableMeta(ctx context.Context, table int, meta protocol.TableMeta) error {
	filter := bson.M{"table": table}
	update := bson.M{"$set": bson.M{"meta": meta, "updated_at": time.Now()}}

	if _, err := r.collection.UpdateMany(ctx, filter, update); err != nil {
		return fmt.Errorf("cannot update table meta: %w", err)
	}
	return nil
}

// ItemFilter narrows archive listings.
type ItemFilter struct {
	Table    *int
	Status   *string
	Category *string
	Limit    int
	Offset   int
}

func (r *OrderRepo) List(ctx context.Context, filter ItemFilter) ([]protocol.OrderItem, error) {
	query := bson.M{}

	if filter.Table != nil {
		query["table"] = *filter.Table
	}

	if filter.Status != nil {
		query["status"] = *filter.Status
	}

	if filter.Category != nil {
		query["category"] = *filter.Category
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}})

	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot find order items: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []itemDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cannot decode order items: %w", err)
	}

	items := make([]protocol.OrderItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, fromDoc(doc))
	}
	return items, nil
}

// ListAll returns the full archive in chronological order, for warm-up.
func (r *OrderRepo) ListAll(ctx context.Context) ([]protocol.OrderItem, error) {
	return r.List(ctx, ItemFilter{})
}

// FindByID looks up one archived item; a miss returns nil without error.
func (r *OrderRepo) FindByID(ctx context.Context, itemID string) (*protocol.OrderItem, error) {
	var doc itemDoc
	err := r.collection.FindOne(ctx, bson.M{"item_id": itemID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot find order item: %w", err)
	}
	item := fromDoc(doc)
	return &item, nil
}

// DeleteTable drops a finalized table's archived rows.
func (r *OrderRepo) DeleteTable(ctx context.Context, table int) error {
	if _, err := r.collection.DeleteMany(ctx, bson.M{"table": table}); err != nil {
		return fmt.Errorf("cannot delete table rows: %w", err)
	}
	return nil
}

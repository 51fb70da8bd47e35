package dbclient

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"appbuilder/internal/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoConnector implements Connector for MongoDB. Tables are collections.
type mongoConnector struct {
	client *mongo.Client
	dbName string
}

// mongoURI builds the connection URI and database name for a backend. A host
// that is already a mongodb:// or mongodb+srv:// URI is used as is, with
// Atlas-style password placeholders filled in.
func mongoURI(b *domain.ManagedBackend, password string) (uri, dbName string) {
	dbName = b.Database
	if strings.HasPrefix(b.Host, "mongodb+srv://") || strings.HasPrefix(b.Host, "mongodb://") {
		uri = b.Host
		if password != "" {
			uri = strings.NewReplacer("<password>", password, "<db_password>", password).Replace(uri)
		}
		if dbName == "" {
			if u, err := url.Parse(uri); err == nil {
				dbName = strings.Trim(u.Path, "/")
			}
		}
	} else {
		u := url.URL{Scheme: "mongodb", Host: hostPort(b), Path: "/"}
		if b.Username != "" {
			u.User = url.UserPassword(b.Username, password)
		}
		uri = u.String()
	}
	if dbName == "" {
		dbName = "test"
	}
	return uri, dbName
}

func newMongoConnector(b *domain.ManagedBackend, password string) (*mongoConnector, error) {
	uri, dbName := mongoURI(b, password)

	logURI := "mongodb://***"
	if u, err := url.Parse(uri); err == nil {
		logURI = u.Redacted()
	}
	log.Printf("[MONGO] Connecting to %s (database %s)", logURI, dbName)

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &mongoConnector{client: client, dbName: dbName}, nil
}

func (m *mongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

// findOptions translates a TableQuery into a Find with projection, sort and
// limit executed by the server. _id is only returned when asked for.
func findOptions(q domain.TableQuery) *options.FindOptionsBuilder {
	opts := options.Find()
	if len(q.Columns) > 0 {
		proj := bson.D{}
		wantID := false
		for _, c := range q.Columns {
			if c == "_id" {
				wantID = true
			}
			proj = append(proj, bson.E{Key: c, Value: 1})
		}
		if !wantID {
			proj = append(proj, bson.E{Key: "_id", Value: 0})
		}
		opts.SetProjection(proj)
	}
	if len(q.OrderBy) > 0 {
		sortDoc := bson.D{}
		for _, o := range q.OrderBy {
			dir := -1
			if o.Ascending {
				dir = 1
			}
			sortDoc = append(sortDoc, bson.E{Key: o.Column, Value: dir})
		}
		opts.SetSort(sortDoc)
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

func (m *mongoConnector) QueryTable(ctx context.Context, q domain.TableQuery) ([]domain.Record, error) {
	if strings.TrimSpace(q.Table) == "" {
		return nil, fmt.Errorf("table is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	coll := m.client.Database(m.dbName).Collection(q.Table)
	cursor, err := coll.Find(ctx, bson.D{}, findOptions(q))
	if err != nil {
		log.Printf("[MONGO] Find error: %v", err)
		return nil, fmt.Errorf("find: %w", err)
	}
	defer cursor.Close(ctx)

	records := []domain.Record{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		rec := make(domain.Record, len(doc))
		for k, v := range doc {
			rec[k] = bsonValue(v)
		}
		records = append(records, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return records, nil
}

// bsonValue converts driver types into JSON-friendly values.
func bsonValue(v any) any {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case bson.M:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = bsonValue(item)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = bsonValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = bsonValue(item)
		}
		return out
	default:
		return val
	}
}

func (m *mongoConnector) Columns(ctx context.Context, table string) ([]ColumnInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	return m.sampleColumns(ctx, table)
}

// sampleColumns reads one document to extract field names, _id first then
// alphabetical.
func (m *mongoConnector) sampleColumns(ctx context.Context, collName string) ([]ColumnInfo, error) {
	coll := m.client.Database(m.dbName).Collection(collName)
	cursor, err := coll.Find(ctx, bson.M{}, options.Find().SetLimit(1))
	if err != nil {
		return nil, fmt.Errorf("sample %s: %w", collName, err)
	}
	defer cursor.Close(ctx)

	var cols []ColumnInfo
	if cursor.Next(ctx) {
		var doc bson.M
		if cursor.Decode(&doc) == nil {
			for k, v := range doc {
				cols = append(cols, ColumnInfo{Name: k, Type: fmt.Sprintf("%T", v)})
			}
		}
	}
	sort.SliceStable(cols, func(i, j int) bool {
		if cols[i].Name == "_id" {
			return true
		}
		if cols[j].Name == "_id" {
			return false
		}
		return cols[i].Name < cols[j].Name
	})
	return cols, cursor.Err()
}

func (m *mongoConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	collections, err := m.client.Database(m.dbName).ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(collections)

	schema := &SchemaInfo{}
	for _, collName := range collections {
		cols, err := m.sampleColumns(ctx, collName)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: collName})
			continue
		}
		schema.Tables = append(schema.Tables, TableInfo{Name: collName, Columns: cols})
	}
	return schema, nil
}

func (m *mongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

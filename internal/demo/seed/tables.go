package seed

import (
	"fmt"

	"github.com/querypilot/querypilot/internal/catalog"
	"github.com/querypilot/querypilot/internal/corpus"
)

// Tables describes the generated tables for the schema catalog.
func Tables(project, dataset string) []catalog.Table {
	qualified := func(table string) string { return project + "." + dataset + "." + table }
	return []catalog.Table{
		{QualifiedName: qualified("users"), Columns: []catalog.Column{
			{Name: "id", Type: "INT64", Hint: "primary key"},
			{Name: "email", Type: "STRING"},
			{Name: "first_name", Type: "STRING"},
			{Name: "last_name", Type: "STRING"},
			{Name: "country", Type: "STRING", Hint: "ISO 3166 alpha-2 code"},
			{Name: "traffic_source", Type: "STRING", Hint: "Search, Organic, Email, Display or Facebook"},
			{Name: "created_at", Type: "TIMESTAMP", Hint: "signup time"},
		}},
		{QualifiedName: qualified("orders"), Columns: []catalog.Column{
			{Name: "order_id", Type: "INT64", Hint: "primary key"},
			{Name: "user_id", Type: "INT64", Hint: "references users.id"},
			{Name: "status", Type: "STRING", Hint: "Complete, Shipped, Processing, Returned or Cancelled"},
			{Name: "num_of_item", Type: "INT64"},
			{Name: "created_at", Type: "TIMESTAMP"},
		}},
		{QualifiedName: qualified("order_items"), Columns: []catalog.Column{
			{Name: "id", Type: "INT64", Hint: "primary key"},
			{Name: "order_id", Type: "INT64", Hint: "references orders.order_id"},
			{Name: "user_id", Type: "INT64", Hint: "references users.id"},
			{Name: "product_name", Type: "STRING"},
			{Name: "category", Type: "STRING"},
			{Name: "sale_price", Type: "FLOAT64", Hint: "USD"},
			{Name: "status", Type: "STRING"},
			{Name: "created_at", Type: "TIMESTAMP"},
		}},
	}
}

// Examples returns the question/SQL pairs that seed the retrieval index.
func Examples(project, dataset string) []corpus.Example {
	t := func(table string) string { return fmt.Sprintf("`%s.%s.%s`", project, dataset, table) }
	return []corpus.Example{
		{
			Question: "Top 10 users by lifetime revenue",
			SQL: "SELECT u.id, u.email, SUM(oi.sale_price) AS revenue\nFROM " + t("users") + " AS u\nJOIN " + t("order_items") +
				" AS oi ON oi.user_id = u.id\nWHERE oi.status NOT IN ('Cancelled', 'Returned')\nGROUP BY u.id, u.email\nORDER BY revenue DESC\nLIMIT 10;",
			Tags: []string{"revenue", "users"},
		},
		{
			Question: "Number of orders per month",
			SQL:      "SELECT DATE_TRUNC('month', created_at) AS month, COUNT(*) AS orders\nFROM " + t("orders") + "\nGROUP BY month\nORDER BY month;",
			Tags:     []string{"orders", "time"},
		},
		{
			Question: "Revenue by product category",
			SQL:      "SELECT category, ROUND(SUM(sale_price), 2) AS revenue\nFROM " + t("order_items") + "\nWHERE status = 'Complete'\nGROUP BY category\nORDER BY revenue DESC;",
			Tags:     []string{"revenue", "products"},
		},
		{
			Question: "Return rate by country",
			SQL: "SELECT u.country, AVG(CASE WHEN o.status = 'Returned' THEN 1.0 ELSE 0.0 END) AS return_rate\nFROM " + t("orders") +
				" AS o\nJOIN " + t("users") + " AS u ON u.id = o.user_id\nGROUP BY u.country\nORDER BY return_rate DESC;",
			Tags: []string{"returns", "users"},
		},
		{
			Question: "Signups by traffic source",
			SQL:      "SELECT traffic_source, COUNT(*) AS signups\nFROM " + t("users") + "\nGROUP BY traffic_source\nORDER BY signups DESC;",
			Tags:     []string{"users", "marketing"},
		},
		{
			Question: "Average order value for completed orders",
			SQL: "WITH order_totals AS (\n  SELECT order_id, SUM(sale_price) AS total\n  FROM " + t("order_items") +
				"\n  WHERE status = 'Complete'\n  GROUP BY order_id\n)\nSELECT AVG(total) AS average_order_value\nFROM order_totals;",
			Tags: []string{"orders", "revenue"},
		},
		{
			Question: "Users who never placed an order",
			SQL: "SELECT u.id, u.email\nFROM " + t("users") + " AS u\nLEFT JOIN " + t("orders") +
				" AS o ON o.user_id = u.id\nWHERE o.order_id IS NULL;",
			Tags: []string{"users", "orders"},
		},
		{
			Question: "Best selling products by units in the last 90 days",
			SQL: "SELECT product_name, COUNT(*) AS units\nFROM " + t("order_items") +
				"\nWHERE created_at >= CURRENT_TIMESTAMP - INTERVAL 90 DAY\nGROUP BY product_name\nORDER BY units DESC\nLIMIT 5;",
			Tags: []string{"products", "time"},
		},
	}
}

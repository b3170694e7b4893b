package seed

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

type User struct {
	ID            int64     `parquet:"id"`
	Email         string    `parquet:"email"`
	FirstName     string    `parquet:"first_name"`
	LastName      string    `parquet:"last_name"`
	Country       string    `parquet:"country"`
	TrafficSource string    `parquet:"traffic_source"`
	CreatedAt     time.Time `parquet:"created_at,timestamp(microsecond)"`
}

type Order struct {
	OrderID   int64     `parquet:"order_id"`
	UserID    int64     `parquet:"user_id"`
	Status    string    `parquet:"status"`
	NumItems  int32     `parquet:"num_of_item"`
	CreatedAt time.Time `parquet:"created_at,timestamp(microsecond)"`
}

type OrderItem struct {
	ID          int64     `parquet:"id"`
	OrderID     int64     `parquet:"order_id"`
	UserID      int64     `parquet:"user_id"`
	ProductName string    `parquet:"product_name"`
	Category    string    `parquet:"category"`
	SalePrice   float64   `parquet:"sale_price"`
	Status      string    `parquet:"status"`
	CreatedAt   time.Time `parquet:"created_at,timestamp(microsecond)"`
}

// Dataset is one generated snapshot of the demo shop.
type Dataset struct {
	Users      []User
	Orders     []Order
	OrderItems []OrderItem
}

type product struct {
	name     string
	category string
	minPrice float64
	maxPrice float64
}

var products = []product{
	{"Trail Runner", "Shoes", 60, 180},
	{"City Sneaker", "Shoes", 45, 120},
	{"Rain Shell", "Outerwear", 80, 260},
	{"Down Parka", "Outerwear", 150, 420},
	{"Merino Tee", "Tops", 25, 70},
	{"Oxford Shirt", "Tops", 35, 95},
	{"Denim Jeans", "Bottoms", 40, 140},
	{"Chino Shorts", "Bottoms", 25, 65},
	{"Canvas Tote", "Accessories", 15, 45},
	{"Wool Beanie", "Accessories", 12, 40},
}

var (
	firstNames     = []string{"Ada", "Bo", "Chen", "Dana", "Emil", "Fatima", "Goran", "Hana", "Ivo", "Jules"}
	lastNames      = []string{"Okafor", "Larsen", "Silva", "Kim", "Novak", "Moreau", "Patel", "Weber", "Sato", "Ruiz"}
	countries      = []string{"US", "DE", "GB", "IN", "JP", "BR", "FR"}
	trafficSources = []string{"Search", "Organic", "Email", "Display", "Facebook"}
)

type Generator struct {
	rnd *rand.Rand
	cfg Config
}

func NewGenerator(cfg Config) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(cfg.Seed)), cfg: cfg}
}

// Generate builds the whole dataset. Equal configs produce equal datasets.
func (g *Generator) Generate() Dataset {
	var out Dataset
	window := time.Duration(g.cfg.Days) * 24 * time.Hour
	end := g.cfg.Start.Add(window)

	var itemID int64
	var orderID int64
	for i := 1; i <= g.cfg.Users; i++ {
		signup := g.cfg.Start.Add(time.Duration(g.rnd.Int63n(int64(window))))
		first := pickOne(g.rnd, firstNames)
		last := pickOne(g.rnd, lastNames)
		user := User{
			ID:            int64(i),
			Email:         fmt.Sprintf("%s.%s.%d@example.com", strings.ToLower(first), strings.ToLower(last), i),
			FirstName:     first,
			LastName:      last,
			Country:       pickOne(g.rnd, countries),
			TrafficSource: pickOne(g.rnd, trafficSources),
			CreatedAt:     signup.Truncate(time.Second),
		}
		out.Users = append(out.Users, user)

		orders := g.rnd.Intn(g.cfg.MaxOrdersPerUser + 1)
		for j := 0; j < orders; j++ {
			orderID++
			remaining := end.Sub(signup)
			placed := signup.Add(time.Duration(g.rnd.Int63n(int64(remaining) + 1))).Truncate(time.Second)
			status := g.pickStatus()
			items := g.rnd.Intn(g.cfg.MaxItemsPerOrder) + 1
			out.Orders = append(out.Orders, Order{
				OrderID:   orderID,
				UserID:    user.ID,
				Status:    status,
				NumItems:  int32(items),
				CreatedAt: placed,
			})
			for k := 0; k < items; k++ {
				itemID++
				p := products[g.rnd.Intn(len(products))]
				out.OrderItems = append(out.OrderItems, OrderItem{
					ID:          itemID,
					OrderID:     orderID,
					UserID:      user.ID,
					ProductName: p.name,
					Category:    p.category,
					SalePrice:   round2(p.minPrice + g.rnd.Float64()*(p.maxPrice-p.minPrice)),
					Status:      status,
					CreatedAt:   placed,
				})
			}
		}
	}
	return out
}

func (g *Generator) pickStatus() string {
	p := g.rnd.Intn(100)
	switch {
	case p < 60:
		return "Complete"
	case p < 75:
		return "Shipped"
	case p < 85:
		return "Processing"
	case p < 93:
		return "Returned"
	default:
		return "Cancelled"
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}

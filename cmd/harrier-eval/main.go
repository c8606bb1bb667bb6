// Command harrier-eval answers eligibility, issuer status and retention
// questions offline from a catalog file and a card history file.
//
// Usage:
//
//	harrier-eval -catalog catalog.json -cards cards.json -product chase-sapphire-preferred
//	harrier-eval -catalog catalog.json -cards cards.json -issuers
//	harrier-eval -catalog catalog.json -cards cards.json -retain plat -usage usage.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/calendar"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/retention"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/velocity"
)

// cardRecord is the history file shape; dates are YYYY-MM-DD.
type cardRecord struct {
	ID                      string `json:"id"`
	ProductID               string `json:"productId"`
	Issuer                  string `json:"issuer"`
	OpenDate                string `json:"openDate"`
	ClosedDate              string `json:"closedDate,omitempty"`
	SignupBonusReceivedDate string `json:"signupBonusReceivedDate,omitempty"`
	IsBusinessCard          *bool  `json:"isBusinessCard,omitempty"`
	ProductFamily           string `json:"productFamily,omitempty"`
	ProductChangedFromID    string `json:"productChangedFromId,omitempty"`
}

// options collects the parsed flags.
type options struct {
	catalogPath string
	cardsPath   string
	usagePath   string
	productID   string
	retainID    string
	issuers     bool
	format      string
	asOf        time.Time
}

func main() {
	catalogPath := flag.String("catalog", "", "Path to the catalog JSON file")
	cardsPath := flag.String("cards", "", "Path to the card history JSON file")
	usagePath := flag.String("usage", "", "Path to a benefit usage JSON file (for -retain)")
	productID := flag.String("product", "", "Product ID to check eligibility for")
	retainID := flag.String("retain", "", "Card ID to run the retention analysis on")
	issuers := flag.Bool("issuers", false, "Print the per-issuer status summary")
	asOf := flag.String("as-of", "", "Evaluation date, YYYY-MM-DD (default today)")
	format := flag.String("format", "text", "Output format: text or json")
	flag.Parse()

	opts := options{
		catalogPath: *catalogPath,
		cardsPath:   *cardsPath,
		usagePath:   *usagePath,
		productID:   *productID,
		retainID:    *retainID,
		issuers:     *issuers,
		format:      *format,
	}

	if opts.catalogPath == "" || (opts.productID == "" && opts.retainID == "" && !opts.issuers) {
		fmt.Println("Usage: harrier-eval -catalog catalog.json [-cards cards.json] (-product ID | -issuers | -retain CARD)")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	opts.asOf = calendar.StartOfDay(time.Now().UTC())
	if *asOf != "" {
		d, err := time.Parse(domain.DateLayout, *asOf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ERROR: invalid -as-of %q: want YYYY-MM-DD\n", *asOf)
			os.Exit(1)
		}
		opts.asOf = d
	}

	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, out io.Writer) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	cat, err := catalog.LoadFile(opts.catalogPath)
	if err != nil {
		return err
	}

	var cards []domain.UserCard
	if opts.cardsPath != "" {
		if cards, err = loadCards(opts.cardsPath, cat); err != nil {
			return err
		}
	}

	r := newRenderer(out, cat)

	if opts.productID != "" {
		product, err := cat.Product(opts.productID)
		if err != nil {
			return unknownProduct(cat, opts.productID)
		}
		v := rules.Evaluate(product, cards, cat.RulesFor(product.Issuer), opts.asOf)
		if opts.format == "json" {
			return writeJSON(out, v)
		}
		r.verdict(product, v)
	}

	if opts.issuers {
		statuses := rules.Summarize(cards, cat, opts.asOf)
		schedule := velocity.AgingScheduleFor524(cards, opts.asOf)
		if opts.format == "json" {
			return writeJSON(out, domain.IssuerStatusEvent{
				CatalogVersion: cat.Version,
				AsOf:           opts.asOf,
				Issuers:        statuses,
			})
		}
		r.velocity(schedule, opts.asOf)
		r.issuers(statuses)
	}

	if opts.retainID != "" {
		v, err := analyze(opts, cat, cards)
		if err != nil {
			return err
		}
		if opts.format == "json" {
			return writeJSON(out, v)
		}
		r.retention(v)
	}

	if opts.format == "text" && len(cat.Warnings) > 0 {
		r.warnings("Catalog", cat.Warnings)
	}
	return nil
}

func analyze(opts options, cat *catalog.Catalog, cards []domain.UserCard) (domain.RetentionVerdict, error) {
	var card *domain.UserCard
	for i := range cards {
		if cards[i].ID == opts.retainID {
			card = &cards[i]
			break
		}
	}
	if card == nil {
		return domain.RetentionVerdict{}, fmt.Errorf("card %q is not in %s", opts.retainID, opts.cardsPath)
	}

	product, err := cat.Product(card.ProductID)
	if err != nil {
		return domain.RetentionVerdict{}, unknownProduct(cat, card.ProductID)
	}

	var usage []domain.BenefitUsage
	if opts.usagePath != "" {
		raw, err := os.ReadFile(opts.usagePath)
		if err != nil {
			return domain.RetentionVerdict{}, fmt.Errorf("failed to read usage: %w", err)
		}
		if err := json.Unmarshal(raw, &usage); err != nil {
			return domain.RetentionVerdict{}, fmt.Errorf("failed to parse usage %s: %w", opts.usagePath, err)
		}
	}

	return retention.Analyze(*card, product, cat.RulesFor(product.Issuer), usage, opts.asOf), nil
}

// loadCards reads the history file. Issuer, family and business flag fall
// back to the catalog product when omitted.
func loadCards(path string, cat *catalog.Catalog) ([]domain.UserCard, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cards: %w", err)
	}
	var records []cardRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to parse cards %s: %w", path, err)
	}

	var errs []error
	cards := make([]domain.UserCard, 0, len(records))
	for i, rec := range records {
		card, err := rec.toCard(cat)
		if err != nil {
			errs = append(errs, fmt.Errorf("cards[%d]: %w", i, err))
			continue
		}
		cards = append(cards, card)
	}
	return cards, errors.Join(errs...)
}

func (rec cardRecord) toCard(cat *catalog.Catalog) (domain.UserCard, error) {
	card := domain.UserCard{
		ID:                   rec.ID,
		ProductID:            rec.ProductID,
		Issuer:               rec.Issuer,
		ProductFamily:        rec.ProductFamily,
		ProductChangedFromID: rec.ProductChangedFromID,
	}

	var err error
	if card.OpenDate, err = parseDay(rec.OpenDate); err != nil {
		return card, fmt.Errorf("openDate: %w", err)
	}
	if rec.ClosedDate != "" {
		d, err := parseDay(rec.ClosedDate)
		if err != nil {
			return card, fmt.Errorf("closedDate: %w", err)
		}
		card.ClosedDate = &d
	}
	if rec.SignupBonusReceivedDate != "" {
		d, err := parseDay(rec.SignupBonusReceivedDate)
		if err != nil {
			return card, fmt.Errorf("signupBonusReceivedDate: %w", err)
		}
		card.BonusReceivedDate = &d
	}

	if p, err := cat.Product(card.ProductID); err == nil {
		if card.Issuer == "" {
			card.Issuer = p.Issuer
		}
		if card.ProductFamily == "" {
			card.ProductFamily = p.Family
		}
		card.IsBusiness = p.IsBusiness
	}
	if rec.IsBusinessCard != nil {
		card.IsBusiness = *rec.IsBusinessCard
	}
	return card, nil
}

func parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

func unknownProduct(cat *catalog.Catalog, id string) error {
	msg := fmt.Sprintf("unknown product %q", id)
	if s := cat.Suggest(id, 3); len(s) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(s, ", "))
	}
	return errors.New(msg)
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

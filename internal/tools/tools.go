// Package tools provides the sample business tools offered to the model.
// Replace or extend them to call a CRM, a calendar or any internal API.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ziadkadry99/chatpilot/internal/bot"
)

const planPrices = `*Send & Receive messages + API + Webhooks + Team Chat + Campaigns + CRM + Analytics*

- Platform Professional: 30,000 messages + unlimited inbound messages + 10 campaigns / month
- Platform Business: 60,000 messages + unlimited inbound messages + 20 campaigns / month
- Platform Enterprise: unlimited messages + 30 campaigns

Each plan is limited to one WhatsApp number. You can purchase multiple plans if you have multiple numbers.

*Find more information about the different plan prices and features here:*
https://wassenger.com/#pricing`

var dateParameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"date": map[string]any{
			"type":        "string",
			"format":      "date-time",
			"description": "Date of the meeting",
		},
	},
	"required": []string{"date"},
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Register adds the sample tools to r. now defaults to time.Now.
func Register(r *bot.ToolRegistry, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	for _, t := range Sample(now) {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("registering tool %s: %w", t.Name, err)
		}
	}
	return nil
}

// Sample returns the sample tools in the order they are offered to the model.
func Sample(now func() time.Time) []bot.Tool {
	return []bot.Tool{
		{
			Name:        "getPlanPrices",
			Description: "Get available plans and prices information available in Wassenger",
			Run: func(context.Context, bot.Invocation) (string, error) {
				return planPrices, nil
			},
		},
		{
			Name:        "loadUserInformation",
			Description: "Find user name and email from the CRM",
			Run: func(context.Context, bot.Invocation) (string, error) {
				return "I am sorry, I am not able to access the CRM at the moment. Please try again later.", nil
			},
		},
		{
			Name:        "verifyMeetingAvailability",
			Description: "Verify if a given date and time is available for a meeting before booking it",
			Parameters:  dateParameters,
			Run:         verifyMeetingAvailability,
		},
		{
			Name:        "bookSalesMeeting",
			Description: "Book a sales or demo meeting with the customer on a specific date and time",
			Parameters:  dateParameters,
			Run: func(_ context.Context, inv bot.Invocation) (string, error) {
				if _, err := parseDate(inv.String("date")); err != nil {
					return err.Error(), nil
				}
				return "Meeting booked successfully. You will receive a confirmation email shortly.", nil
			},
		},
		{
			Name:        "currentDateAndTime",
			Description: "What is the current date and time",
			Run: func(context.Context, bot.Invocation) (string, error) {
				return now().Format("Monday, January 2, 2006 15:04:05 MST"), nil
			},
		},
	}
}

// verifyMeetingAvailability accepts weekdays between 9:00 and 17:59 in the
// time zone of the given date.
func verifyMeetingAvailability(_ context.Context, inv bot.Invocation) (string, error) {
	date, err := parseDate(inv.String("date"))
	if err != nil {
		return err.Error(), nil
	}
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return "Not available on weekends", nil
	}
	if h := date.Hour(); h < 9 || h > 17 {
		return "Not available outside business hours: 9 am to 5 pm", nil
	}
	return "Available", nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("a meeting date is required")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q, expected an ISO 8601 date and time", s)
}

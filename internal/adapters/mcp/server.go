// Package mcpadapter exposes the archive to MCP clients as tools.
package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/ports"
	"github.com/kirillkom/chat-archive-insights/internal/core/stream"
)

const (
	ToolAskArchive    = "ask_archive"
	ToolGetEvaluation = "get_evaluation"
)

type handlers struct {
	asker       ports.QuestionAnswerer
	evaluations ports.EvaluationReader
}

// AskResult is the tool output for ask_archive.
type AskResult struct {
	QueryID    string                   `json:"query_id,omitempty"`
	Intent     domain.Intent            `json:"intent,omitempty"`
	Subject    string                   `json:"subject,omitempty"`
	TimeWindow string                   `json:"time_window,omitempty"`
	Answer     string                   `json:"answer"`
	Citations  []domain.Citation        `json:"citations"`
	Evaluation *domain.EvaluationResult `json:"evaluation,omitempty"`
	Notice     domain.ErrorKind         `json:"notice,omitempty"`
}

func NewServer(asker ports.QuestionAnswerer, evaluations ports.EvaluationReader, version string) *server.MCPServer {
	h := &handlers{asker: asker, evaluations: evaluations}

	s := server.NewMCPServer("chat-archive-insights", version, server.WithToolCapabilities(false))
	s.AddTool(mcp.NewTool(ToolAskArchive,
		mcp.WithDescription("Answer a question from a team's archived chat history, with citations. "+
			"Questions about how a person is doing return a rubric evaluation."),
		mcp.WithString("client_id", mcp.Required(), mcp.Description("Tenant whose archive is searched")),
		mcp.WithString("question", mcp.Required(), mcp.Description("Natural-language question")),
		mcp.WithArray("room_ids", mcp.Description("Restrict to these rooms"), mcp.WithStringItems()),
		mcp.WithArray("participants", mcp.Description("Restrict to conversations with these people"), mcp.WithStringItems()),
		mcp.WithString("date_from", mcp.Description("Inclusive start, YYYY-MM-DD or RFC 3339")),
		mcp.WithString("date_to", mcp.Description("Inclusive end, YYYY-MM-DD or RFC 3339")),
	), h.askArchive)
	s.AddTool(mcp.NewTool(ToolGetEvaluation,
		mcp.WithDescription("Fetch a stored evaluation by the query id returned from ask_archive"),
		mcp.WithString("query_id", mcp.Required(), mcp.Description("Query id")),
	), h.getEvaluation)
	return s
}

func (h *handlers) askArchive(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	clientID, err := request.RequireString("client_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	from, err := domain.ParseFilterDate(request.GetString("date_from", ""), false)
	if err != nil {
		return mcp.NewToolResultError("date_from: " + err.Error()), nil
	}
	to, err := domain.ParseFilterDate(request.GetString("date_to", ""), true)
	if err != nil {
		return mcp.NewToolResultError("date_to: " + err.Error()), nil
	}

	req := domain.AskRequest{
		ClientID: clientID,
		Question: question,
		Filter: domain.Filter{
			RoomIDs:      request.GetStringSlice("room_ids", nil),
			Participants: request.GetStringSlice("participants", nil),
			DateFrom:     from,
			DateTo:       to,
		},
		CorrelationID: uuid.NewString(),
	}

	recorder := &stream.Recorder{}
	askErr := h.asker.Ask(ctx, req, recorder)
	result, failure := collect(recorder)
	if failure != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %s", failure.Kind, failure.Message)), nil
	}
	if askErr != nil {
		if domain.ErrorKindOf(askErr) == domain.KindBadInput {
			return mcp.NewToolResultError(askErr.Error()), nil
		}
		return nil, askErr
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode ask result: %w", err)
	}
	slog.Info("mcp_ask_completed", "correlation_id", req.CorrelationID, "intent", result.Intent, "citations", len(result.Citations))
	return mcp.NewToolResultText(string(payload)), nil
}

func (h *handlers) getEvaluation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	queryID, err := request.RequireString("query_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stored, err := h.evaluations.GetEvaluation(ctx, queryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return mcp.NewToolResultError("no evaluation stored for query " + queryID), nil
		}
		return nil, err
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode evaluation: %w", err)
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// collect folds recorded events into a tool result. The error payload is returned when the
// stream ended in an error event.
func collect(recorder *stream.Recorder) (AskResult, *domain.ErrorPayload) {
	result := AskResult{Answer: recorder.Text(), Citations: []domain.Citation{}}
	for _, event := range recorder.Events() {
		switch p := event.Payload.(type) {
		case domain.MetaPayload:
			result.Intent = p.Intent
			result.Subject = p.Subject
			result.TimeWindow = p.TimeWindow
		case domain.CitationsPayload:
			result.Citations = p.Citations
		case domain.EvaluationResult:
			evaluation := p
			result.Evaluation = &evaluation
		case domain.DonePayload:
			result.QueryID = p.QueryID
			result.Notice = p.Notice
		case domain.ErrorPayload:
			failure := p
			return result, &failure
		}
	}
	return result, nil
}

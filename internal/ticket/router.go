package ticket

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
	"zapdesk/internal/store"
)

var (
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrQueueNotFound   = errors.New("queue not found")
	ErrInvalidState    = errors.New("ticket is not in a valid state for this operation")
	ErrAlreadyAssigned = errors.New("ticket is already assigned to another agent")
	ErrAlreadyFinished = errors.New("ticket is already finished")
)

// Sender delivers text into a chat through a live session. The session
// registry implements it.
type Sender interface {
	SendText(ctx context.Context, sessionID, chatJID, text string) (*models.Message, error)
}

// Router drives tickets through their lifecycle: greeting menu, queue
// choice, agent assignment and resolution.
type Router struct {
	store  *store.Store
	sender Sender
}

func NewRouter(st *store.Store, sender Sender) *Router {
	return &Router{store: st, sender: sender}
}

// GetOpenTicket returns the client's open ticket, or ErrTicketNotFound.
func (r *Router) GetOpenTicket(ctx context.Context, clientID string) (*models.Ticket, error) {
	t, err := r.store.GetOpenTicketByClient(ctx, clientID)
	if store.IsNotFound(err) {
		return nil, ErrTicketNotFound
	}
	return t, err
}

// HandleClientMessage is the conversation automation entry point: it
// opens a ticket on first contact, routes the queue choice, and keeps
// the ticket's activity timestamp fresh afterwards.
func (r *Router) HandleClientMessage(ctx context.Context, client *models.Client, chat *models.Chat, body string) {
	t, err := r.store.GetOpenTicketByClient(ctx, client.ID)
	if store.IsNotFound(err) {
		if _, err := r.Open(ctx, client, chat); err != nil {
			log.Error().Err(err).Str("clientID", client.ID).Msg("failed to open ticket")
		}
		return
	}
	if err != nil {
		log.Error().Err(err).Str("clientID", client.ID).Msg("failed to look up open ticket")
		return
	}

	switch t.Status {
	case models.TicketAwaitingClientChoice:
		// An agent who already assumed the ticket owns the conversation;
		// automation stays quiet.
		if t.UserID != nil {
			return
		}
		if err := r.processChoice(ctx, t, client, chat, body); err != nil {
			log.Error().Err(err).Str("ticketID", t.ID).Msg("failed to process queue choice")
		}
	default:
		if err := r.store.TouchTicket(ctx, t.ID); err != nil {
			log.Warn().Err(err).Str("ticketID", t.ID).Msg("failed to touch ticket")
		}
	}
}

// Open creates a ticket for the client and sends the queue menu. When the
// tenant has no active queues nothing is created and nothing is sent.
func (r *Router) Open(ctx context.Context, client *models.Client, chat *models.Chat) (*models.Ticket, error) {
	queues, err := r.store.ListActiveQueues(ctx, client.CompanyID)
	if err != nil {
		return nil, err
	}
	if len(queues) == 0 {
		log.Debug().Str("companyID", client.CompanyID).Msg("no active queues, skipping ticket creation")
		return nil, nil
	}

	t := &models.Ticket{
		ID:        uuid.NewString(),
		CompanyID: client.CompanyID,
		ClientID:  client.ID,
		ChatID:    &chat.ID,
		Subject:   "New conversation",
		Status:    models.TicketAwaitingClientChoice,
	}
	if err := r.store.CreateTicket(ctx, t); err != nil {
		return nil, err
	}

	if _, err := r.sender.SendText(ctx, chat.SessionID, chat.WaChatID, queueMenu(client.Name, queues)); err != nil {
		log.Warn().Err(err).Str("ticketID", t.ID).Msg("failed to send queue menu")
	}
	return t, nil
}

// processChoice interprets the client's reply as a 1-based menu index.
// Anything else re-sends the menu, unless an agent took the ticket in
// the meantime.
func (r *Router) processChoice(ctx context.Context, t *models.Ticket, client *models.Client, chat *models.Chat, body string) error {
	queues, err := r.store.ListActiveQueues(ctx, t.CompanyID)
	if err != nil {
		return err
	}

	choice, convErr := strconv.Atoi(strings.TrimSpace(body))
	if convErr != nil || choice < 1 || choice > len(queues) {
		// An agent may have assumed the ticket mid-flight; re-check
		// before prompting again.
		cur, err := r.getTicket(ctx, t.ID)
		if err != nil {
			return err
		}
		if cur.UserID != nil {
			return nil
		}
		reply := "Sorry, I didn't understand that option.\n\n" + queueMenu(client.Name, queues)
		if _, err := r.sender.SendText(ctx, chat.SessionID, chat.WaChatID, reply); err != nil {
			log.Warn().Err(err).Str("ticketID", t.ID).Msg("failed to re-send queue menu")
		}
		return nil
	}

	queue := queues[choice-1]

	// First agent on the roster gets the ticket; an empty roster leaves
	// it waiting for anyone in the queue.
	var userID *string
	agents, err := r.store.ListQueueAgents(ctx, queue.ID)
	if err != nil {
		return err
	}
	if len(agents) > 0 {
		userID = &agents[0]
	}

	if err := r.store.RouteTicketToQueue(ctx, t.ID, queue.ID, userID, queue.Name); err != nil {
		return err
	}

	greeting := fmt.Sprintf("You are now in the *%s* queue. An agent will be with you shortly.", queue.Name)
	if queue.GreetingMessage != nil && *queue.GreetingMessage != "" {
		greeting = *queue.GreetingMessage
	}
	if _, err := r.sender.SendText(ctx, chat.SessionID, chat.WaChatID, greeting); err != nil {
		log.Warn().Err(err).Str("ticketID", t.ID).Msg("failed to send queue greeting")
	}
	return nil
}

// Assume assigns a waiting ticket to an agent.
func (r *Router) Assume(ctx context.Context, ticketID, userID string) error {
	t, err := r.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}

	if t.Status == models.TicketFinished || t.Status == models.TicketCancelled {
		return ErrAlreadyFinished
	}
	if t.UserID != nil && *t.UserID != userID {
		return ErrAlreadyAssigned
	}
	if t.Status == models.TicketInProgress && t.UserID != nil {
		// Already theirs.
		return nil
	}

	return r.store.AssignTicket(ctx, ticketID, userID)
}

// Finish resolves a ticket. Only an already finished ticket is rejected;
// a cancelled one may still be closed with a resolution.
func (r *Router) Finish(ctx context.Context, ticketID string, resolution *string) error {
	t, err := r.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Status == models.TicketFinished {
		return ErrAlreadyFinished
	}
	return r.store.FinishTicket(ctx, ticketID, resolution)
}

// Cancel closes a ticket without resolution.
func (r *Router) Cancel(ctx context.Context, ticketID string) error {
	t, err := r.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if !t.Status.IsOpen() {
		return ErrAlreadyFinished
	}
	return r.store.CancelTicket(ctx, ticketID)
}

// Transfer moves an open ticket to another queue and hands it to the
// first agent on the new queue's roster, falling back to the acting
// user when the roster is empty. The client is told about the move on
// a best-effort basis.
func (r *Router) Transfer(ctx context.Context, ticketID, queueID, userID string) error {
	t, err := r.getTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if !t.Status.IsOpen() {
		return ErrAlreadyFinished
	}

	queue, err := r.store.GetQueue(ctx, queueID)
	if store.IsNotFound(err) {
		return ErrQueueNotFound
	}
	if err != nil {
		return err
	}
	if queue.CompanyID != t.CompanyID || !queue.IsActive {
		return ErrQueueNotFound
	}

	agents, err := r.store.ListQueueAgents(ctx, queue.ID)
	if err != nil {
		return err
	}
	assignee := userID
	if len(agents) > 0 {
		assignee = agents[0]
	}

	if err := r.store.RouteTicketToQueue(ctx, t.ID, queue.ID, &assignee, queue.Name+" (transferred)"); err != nil {
		return err
	}

	if t.ChatID != nil {
		if chat, chatErr := r.store.GetChat(ctx, *t.ChatID); chatErr == nil {
			text := fmt.Sprintf("Your conversation was transferred to the *%s* queue.", queue.Name)
			if _, err := r.sender.SendText(ctx, chat.SessionID, chat.WaChatID, text); err != nil {
				log.Warn().Err(err).Str("ticketID", t.ID).Msg("failed to notify client about transfer")
			}
		}
	}
	return nil
}

// ListForAgent returns the agent's work list in FIFO order: tickets
// assigned to them plus unassigned tickets in their queues.
func (r *Router) ListForAgent(ctx context.Context, userID string, status *models.TicketStatus) ([]models.Ticket, error) {
	queueIDs, err := r.store.ListQueueIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.store.ListTicketsForAgent(ctx, userID, queueIDs, status)
}

// SendAgentMessage delivers an agent reply on a ticket under handling.
// The text goes out prefixed with the agent's name.
func (r *Router) SendAgentMessage(ctx context.Context, ticketID, userID, text string) (*models.Message, error) {
	t, err := r.getTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.TicketInProgress {
		return nil, ErrInvalidState
	}
	if t.UserID == nil || *t.UserID != userID {
		return nil, ErrAlreadyAssigned
	}
	if t.ChatID == nil {
		return nil, ErrInvalidState
	}

	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	chat, err := r.store.GetChat(ctx, *t.ChatID)
	if err != nil {
		return nil, err
	}

	msg, err := r.sender.SendText(ctx, chat.SessionID, chat.WaChatID, fmt.Sprintf("*%s:* %s", user.Name, text))
	if err != nil {
		return nil, err
	}

	if err := r.store.TouchTicket(ctx, t.ID); err != nil {
		log.Warn().Err(err).Str("ticketID", t.ID).Msg("failed to touch ticket")
	}
	return msg, nil
}

func (r *Router) getTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	t, err := r.store.GetTicket(ctx, ticketID)
	if store.IsNotFound(err) {
		return nil, ErrTicketNotFound
	}
	return t, err
}

func queueMenu(clientName string, queues []models.Queue) string {
	var b strings.Builder
	if clientName != "" {
		fmt.Fprintf(&b, "Hello, %s! ", clientName)
	} else {
		b.WriteString("Hello! ")
	}
	b.WriteString("Welcome to our support. Reply with the number of the area you need:\n\n")
	for i, q := range queues {
		fmt.Fprintf(&b, "*%d* - %s\n", i+1, q.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

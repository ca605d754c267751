package broker

import (
	"context"
	"encoding/json"
	"time"

	"rei360.com/dto"
	"rei360.com/escrow"

	"github.com/go-stomp/stomp/v3"
	"github.com/gofiber/fiber/v2/log"
)

const paymentCapturedQueue = "/queue/payment-captured"

var conn *stomp.Conn

// Connect dials the STOMP broker. Callers that cannot reach the broker keep
// running; outbound sends become no-ops and the capture listener is skipped.
func Connect(network, addr string) error {
	c, err := stomp.Dial(network, addr,
		stomp.ConnOpt.HeartBeat(10*time.Second, 10*time.Second),
	)
	if err != nil {
		log.Warnf("broker unavailable at %s: %v", addr, err)
		return err
	}
	conn = c
	log.Infof("connected to message broker at %s", addr)
	return nil
}

// StartListeners subscribes to the billing service's payment capture queue
// and feeds confirmed deposits into the engine. The billing service is the
// trusted capture notifier, so the funding is recorded under the admin role.
func StartListeners(engine *escrow.Engine) {
	if conn == nil {
		return
	}

	sub, err := conn.Subscribe(paymentCapturedQueue, stomp.AckAuto)
	if err != nil {
		log.Errorf("failed to subscribe to %s: %v", paymentCapturedQueue, err)
		return
	}

	go func() {
		for msg := range sub.C {
			if msg.Err != nil {
				log.Warnf("payment capture subscription error: %v", msg.Err)
				continue
			}
			var payload dto.PaymentCapturedDTO
			if err := json.Unmarshal(msg.Body, &payload); err != nil {
				log.Warnf("malformed payment capture message: %v", err)
				continue
			}

			_, err := engine.RecordFunding(context.Background(), payload.TransactionID,
				escrow.Actor{Admin: true}, payload.PaymentReference)
			if err != nil {
				log.Warnf("failed to record funding for %s: %v", payload.TransactionID, err)
				continue
			}
			log.Infof("recorded funding for %s (payment %s)", payload.TransactionID, payload.PaymentReference)
		}
	}()
}

func sendReliable(destination string, payload interface{}) error {
	if conn == nil {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.Send(destination, "application/json", body, stomp.SendOpt.Receipt)
}

package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// EmailConfig SMTP 参数
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel 通过 SMTP 发送摘要，附带 CSV。
type EmailChannel struct {
	cfg      EmailConfig
	sendMail sendMailFunc
	now      func() time.Time
}

// NewEmailChannel 创建邮件通道
func NewEmailChannel(cfg EmailConfig) (*EmailChannel, error) {
	if cfg.Host == "" {
		return nil, errors.New("email host is required")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("email from/to is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailChannel{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}, nil
}

// Name 返回通道名称
func (c *EmailChannel) Name() string { return "email" }

// Send smtp.SendMail 不支持 context，这里只在发送前检查取消。
func (c *EmailChannel) Send(ctx context.Context, r Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := c.buildMessage(r)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if err := c.sendMail(addr, auth, c.cfg.From, c.cfg.To, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func (c *EmailChannel) buildMessage(r Report) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := textproto.MIMEHeader{}
	hdr.Set("From", c.cfg.From)
	hdr.Set("To", strings.Join(c.cfg.To, ", "))
	hdr.Set("Subject", mime.QEncoding.Encode("utf-8", r.Title))
	hdr.Set("Date", c.now().Format(time.RFC1123Z))
	hdr.Set("MIME-Version", "1.0")
	hdr.Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	for _, k := range []string{"From", "To", "Subject", "Date", "MIME-Version", "Content-Type"} {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, hdr.Get(k))
	}
	buf.WriteString("\r\n")

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"8bit"},
	})
	if err != nil {
		return nil, err
	}
	if _, err := text.Write([]byte(TextBody(r))); err != nil {
		return nil, err
	}

	if len(r.CSV) > 0 {
		name := "sym_summary_" + r.Timestamp.UTC().Format("20060102_1504") + ".csv"
		att, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {"text/csv; name=\"" + name + "\""},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {"attachment; filename=\"" + name + "\""},
		})
		if err != nil {
			return nil, err
		}
		enc := base64.StdEncoding.EncodeToString(r.CSV)
		for len(enc) > 76 {
			if _, err := att.Write([]byte(enc[:76] + "\r\n")); err != nil {
				return nil, err
			}
			enc = enc[76:]
		}
		if _, err := att.Write([]byte(enc + "\r\n")); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package uiautomator2

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
)

// Source returns the window hierarchy XML of the current screen.
func (c *Client) Source(ctx context.Context) (string, error) {
	if err := c.requireSession(); err != nil {
		return "", err
	}
	data, err := c.request(ctx, "GET", c.sessionPath("/source"), nil)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("parse source response: invalid JSON")
	}
	value := gjson.GetBytes(data, "value")
	if value.Type != gjson.String {
		return "", fmt.Errorf("parse source response: value is not a string")
	}
	return value.String(), nil
}

// Back presses the system back button.
func (c *Client) Back(ctx context.Context) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	_, err := c.request(ctx, "POST", c.sessionPath("/back"), nil)
	return err
}

// PressKeyCode presses an Android key code.
func (c *Client) PressKeyCode(ctx context.Context, keyCode int) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	_, err := c.request(ctx, "POST", c.sessionPath("/appium/device/press_keycode"), KeyCodeRequest{KeyCode: keyCode})
	return err
}

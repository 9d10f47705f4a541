package adapter

import "encoding/json"

// ExtractText pulls the generated text out of any of the supported response
// shapes. It is a presentation helper; the balancer itself passes bodies
// through untouched. The second result is false if no text was found.
func ExtractText(body []byte) (string, bool) {
	var resp struct {
		Response *string `json:"response"`
		Choices  []struct {
			Text    *string `json:"text"`
			Message *struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return "", false
	}

	if resp.Response != nil {
		return *resp.Response, true
	}

	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		if c.Message != nil {
			return c.Message.Content, true
		}
		if c.Text != nil {
			return *c.Text, true
		}
	}

	return "", false
}

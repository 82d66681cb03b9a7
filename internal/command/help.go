package command

// helpText is posted to chat by --commands.
const helpText = `
Available commands:

  --commands                      Posts this message to chat.
  --input-buffer-size             Post size of LLM input buffer.
  --update-input-buffer N         Updates LLM input buffer to last N messages.
  --show-input-messages           Posts current content of LLM input buffer.
  --show-prompt                   Post the current system prompt to chat.
  --update-prompt PROMPT          Updates the system prompt to PROMPT and restarts chat history.
  --restart-chat                  Clears and restarts chat history.
  --restart-model                 Reloads the current model on the inference server.
  --show-decoding-mode            Posts the current decoding mode.
  --show-decoding-modes           Posts available decoding modes.
  --set-decoding-mode MODE        Sets decoding mode to MODE.
  --show-config                   Post generation configuration parameters not at their defaults.
  --show-config-full              Post all generation configuration parameters.
  --show-config-value PARAMETER   Show the value of generation configuration PARAMETER.
  --update-config PARAMETER VALUE Updates generation configuration PARAMETER to VALUE.
  --supported-models              Post supported models to chat.
  --swap-model MODEL              Change the model type used for generation.
  --document-title                Posts current document title to chat.
  --set-document-title TITLE      Updates document title.
  --set-gdrive-folder FOLDER      Set Google Drive folder ID or share link for document upload.
  --make-docx N [M]               Makes and uploads a document to Google Drive, where N is the
                                  reverse index in chat history, e.g. 1 is the last message, 2 the
                                  second to last. N M selects a message range. Defaults to the
                                  last message if omitted.`
